package app

import (
	"errors"
	"fmt"
	"testing"

	"relay/api/internal/dlock"
	"relay/api/internal/docstore"
	"relay/api/internal/store"
)

func TestMapInfraClassifiesStoreOutages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"lock store", fmt.Errorf("acquire: %w", dlock.ErrUnavailable), "LOCK_STORE_DOWN"},
		{"relational store", fmt.Errorf("list members: %w", store.ErrUnavailable), "DATABASE_DOWN"},
		{"document store", fmt.Errorf("insert message: %w", docstore.ErrUnavailable), "DOCUMENT_STORE_DOWN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapInfra(tc.err)
			if KindOf(mapped) != KindUnavailable {
				t.Fatalf("expected unavailable kind, got %v", mapped)
			}
			if CodeOf(mapped) != tc.code {
				t.Errorf("expected code %q, got %q", tc.code, CodeOf(mapped))
			}
		})
	}
}

func TestMapInfraPassesOtherErrorsThrough(t *testing.T) {
	if mapInfra(nil) != nil {
		t.Error("nil must map to nil")
	}
	plain := errors.New("row scan failed")
	if got := mapInfra(plain); got != plain {
		t.Errorf("plain error must pass through, got %v", got)
	}
	if KindOf(mapInfra(plain)) != 0 {
		t.Error("plain error must stay kindless")
	}
}
