package job

import (
	"testing"

	"straw/internal/straw/protocol"
)

func TestContainerReuseJobReturnsSameInstance(t *testing.T) {
	c := NewContainer(KindHttpGet, "http://example.invalid/")
	j1, err := c.Job()
	if err != nil {
		t.Fatal(err)
	}
	j2, err := c.Job()
	if err != nil {
		t.Fatal(err)
	}
	if j1 != j2 {
		t.Fatal("ReuseJob=true should return the same Job instance")
	}
}

func TestContainerNoReuseBuildsFreshJobs(t *testing.T) {
	c := NewContainer(KindHttpGet, "http://example.invalid/", WithReuseJob(false))
	j1, err := c.Job()
	if err != nil {
		t.Fatal(err)
	}
	j2, err := c.Job()
	if err != nil {
		t.Fatal(err)
	}
	if j1 == j2 {
		t.Fatal("ReuseJob=false should build a fresh Job each call")
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	c := NewContainer(KindHttpPost, "http://example.invalid/", WithData(map[string]any{"a": 1.0}), WithHeaders(map[string]string{"X-Test": "1"}))
	desc, err := c.ToDescriptor()
	if err != nil {
		t.Fatal(err)
	}
	if desc.Kind != KindHttpPost || desc.URL != c.URL {
		t.Fatalf("descriptor mismatch: %+v", desc)
	}

	rebuilt, err := FromDescriptor(desc)
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt.Kind != c.Kind || rebuilt.URL != c.URL || rebuilt.Headers["X-Test"] != "1" {
		t.Fatalf("rebuilt container mismatch: %+v", rebuilt)
	}
	if rebuilt.Callback != nil {
		t.Fatal("a descriptor must never carry a callback across process boundaries")
	}
}

func TestFromURLSplitsQueryForPost(t *testing.T) {
	c, err := FromURL("http://example.invalid/path?arg1=value1&arg2=value2", protocol.MethodPOST)
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != KindHttpPost {
		t.Fatalf("Kind = %v, want HttpPost", c.Kind)
	}
	if c.URL != "http://example.invalid/path" {
		t.Fatalf("URL = %q, want base url without query", c.URL)
	}
	params, ok := c.Data.(map[string]any)
	if !ok || params["arg1"] != "value1" || params["arg2"] != "value2" {
		t.Fatalf("Data = %#v, want parsed query params", c.Data)
	}
}

func TestFromURLGetKeepsFullURL(t *testing.T) {
	c, err := FromURL("http://example.invalid/path?arg1=value1", protocol.MethodGET)
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != KindHttpGet {
		t.Fatalf("Kind = %v, want HttpGet", c.Kind)
	}
	if c.URL != "http://example.invalid/path?arg1=value1" {
		t.Fatalf("URL = %q, want the untouched original url for GET", c.URL)
	}
}
