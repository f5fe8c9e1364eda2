package filter

import (
	"errors"
	"testing"
)

func TestBuilderRejectsDuplicateNames(t *testing.T) {
	var b Builder
	if err := b.Add("USER_NAME = :user_name", Bindings{"user_name": "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := b.Add("LOWER(USER_NAME) = :user_name", Bindings{"user_name": "b"})
	if !errors.Is(err, ErrDuplicateBinding) {
		t.Fatalf("expected ErrDuplicateBinding, got %v", err)
	}
	if got := b.Predicate().SQL; got != "USER_NAME = :user_name" {
		t.Fatalf("rejected clause leaked into predicate: %s", got)
	}
}

func TestBuilderEmptyIsAlwaysTrue(t *testing.T) {
	var b Builder
	p := b.Predicate()
	if p.SQL != "1 = 1" || len(p.Bindings) != 0 {
		t.Fatalf("unexpected empty predicate %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("empty predicate should validate: %v", err)
	}
}

func TestValidateBindings(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		bindings Bindings
		want     error
	}{
		{"ok", "A = :a AND B IN (:b_0,:b_1)", Bindings{"a": 1, "b_0": 2, "b_1": 3}, nil},
		{"repeat placeholder", "A = :a OR C = :a", Bindings{"a": 1}, nil},
		{"cast ignored", "A::varchar = :a", Bindings{"a": "x"}, nil},
		{"unbound", "A = :a AND B = :b", Bindings{"a": 1}, ErrUnboundPlaceholder},
		{"unused", "A = :a", Bindings{"a": 1, "z": 2}, ErrUnusedBinding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBindings(tt.sql, tt.bindings)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPredicateAnd(t *testing.T) {
	base := Predicate{SQL: "START_TIME >= :start_ts AND START_TIME <= :end_ts", Bindings: Bindings{"start_ts": 1, "end_ts": 2}}
	ext, err := base.And("TOTAL_ELAPSED_TIME >= :min_elapsed_ms", Bindings{"min_elapsed_ms": 600000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.SQL != "START_TIME >= :start_ts AND START_TIME <= :end_ts AND TOTAL_ELAPSED_TIME >= :min_elapsed_ms" {
		t.Fatalf("unexpected SQL %s", ext.SQL)
	}
	if len(base.Bindings) != 2 {
		t.Fatalf("And must not mutate the receiver")
	}
	if _, err := base.And("X = :start_ts", Bindings{"start_ts": 3}); !errors.Is(err, ErrDuplicateBinding) {
		t.Fatalf("expected ErrDuplicateBinding, got %v", err)
	}
}

func TestBindingsMerge(t *testing.T) {
	merged, err := Bindings{"a": 1}.Merge(Bindings{"a": 1, "b": 2})
	if err != nil || len(merged) != 2 {
		t.Fatalf("unexpected merge %v %v", merged, err)
	}
	if _, err := (Bindings{"a": 1}).Merge(Bindings{"a": 2}); !errors.Is(err, ErrConflictingBinding) {
		t.Fatalf("expected ErrConflictingBinding, got %v", err)
	}
}
