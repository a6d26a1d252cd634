package ctlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleList = `{
	"operators": [
		{
			"logs": [
				{"url": "https://ct.example.com/log1/", "description": "Example Log 1", "state": {"usable": {}}},
				{"url": "https://ct.example.com/log2/", "description": "Example Log 2", "state": {"retired": {}}},
				{"url": "https://ct.example.com/log3/", "description": "Example Log 3"}
			]
		},
		{
			"logs": [
				{"url": "https://ct.example.com/log4", "description": "Example Log 4", "state": {"usable": {}}}
			]
		}
	]
}`

func TestList_FiltersToUsable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleList))
	}))
	defer srv.Close()

	d := NewDirectory(srv.URL)
	got := d.List(context.Background())

	if len(got) != 2 {
		t.Fatalf("expected 2 usable logs, got %d: %+v", len(got), got)
	}
	if got[0].URL != "https://ct.example.com/log1" {
		t.Errorf("expected trailing slash trimmed, got %q", got[0].URL)
	}
	if got[0].Name != "Example Log 1" {
		t.Errorf("unexpected name %q", got[0].Name)
	}
	if got[1].URL != "https://ct.example.com/log4" {
		t.Errorf("unexpected second entry %+v", got[1])
	}
}

func TestList_PreservesOrderAcrossOperators(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleList))
	}))
	defer srv.Close()

	got := NewDirectory(srv.URL).List(context.Background())
	if got[0].Name != "Example Log 1" || got[1].Name != "Example Log 4" {
		t.Fatalf("order not preserved: %+v", got)
	}
}

func TestList_NonOKStatusYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	got := NewDirectory(srv.URL).List(context.Background())
	if got != nil {
		t.Fatalf("expected nil result on 500, got %+v", got)
	}
}

func TestList_MalformedJSONYieldsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	got := NewDirectory(srv.URL).List(context.Background())
	if got != nil {
		t.Fatalf("expected nil result on malformed body, got %+v", got)
	}
}

func TestList_NetworkFailureYieldsEmpty(t *testing.T) {
	d := NewDirectory("http://127.0.0.1:0")
	got := d.List(context.Background())
	if got != nil {
		t.Fatalf("expected nil result on connection failure, got %+v", got)
	}
}
