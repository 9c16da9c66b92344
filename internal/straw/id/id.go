// Package id generates the unique identifiers every Analysable tier
// carries, following the original source's `uid()` helper: a random UUID
// alone for anonymous ids, or a host-scoped, namespaced id for tiers whose
// identity should be traceable back to the machine that produced it.
package id

import (
	"fmt"

	"github.com/google/uuid"
	"straw/internal/straw/netutil"
)

// New returns a bare random unique id.
func New() string {
	return uuid.NewString()
}

// Namespaced returns a host-scoped id of the form "<host-ip>-<namespace>-<uuid>",
// used by tiers (Slave, Worker, WorkerManager, Job) whose id should be
// traceable to the producing machine.
func Namespaced(namespace string) string {
	return fmt.Sprintf("%s-%s-%s", netutil.HostIP(), namespace, uuid.NewString())
}
