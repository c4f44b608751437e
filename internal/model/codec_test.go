package model

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/raaihank/log-sentinel/internal/index"
	"github.com/raaihank/log-sentinel/internal/source"
)

func TestMarshalRoundTrip(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()

	baseline := append(
		lines("api.log",
			"GET /v1/items 200 in 12ms",
			"POST /v1/items 201 in 40ms",
			"user 42 logged in from 10.1.1.1",
		),
		lines("db.log", "checkpoint complete", "vacuum started on table users")...,
	)
	baseline = append(baseline, lines("blank.log", "")...)

	m, err := e.Train(ctx, baseline)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	blob, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	restored, err := Unmarshal(blob)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if restored.Fingerprint() != m.Fingerprint() {
		t.Errorf("fingerprint changed: %s vs %s", restored.Fingerprint(), m.Fingerprint())
	}
	if diff := cmp.Diff(m.Sources(), restored.Sources()); diff != "" {
		t.Errorf("sources mismatch:\n%s", diff)
	}
	if restored.Params() != m.Params() {
		t.Errorf("params changed")
	}
	if diff := cmp.Diff(m.Tokenizer(), restored.Tokenizer()); diff != "" {
		t.Errorf("tokenizer options changed:\n%s", diff)
	}

	target := append(
		lines("api.log", "GET /v1/items 500 in 3ms", "panic in handler", "user 7 logged out"),
		lines("db.log", "checkpoint complete", "deadlock detected")...,
	)
	target = append(target, lines("blank.log", "something")...)
	target = append(target, lines("other.log", "unseen")...)

	want, err := e.Score(ctx, m, target)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	got, err := e.Score(ctx, restored, target)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if diff := cmp.Diff(want.Sources, got.Sources); diff != "" {
		t.Errorf("restored model scores differently:\n%s", diff)
	}

	for _, id := range m.Sources() {
		a, _ := m.Index(id)
		b, _ := restored.Index(id)
		for _, l := range target {
			tokens := e.tokenizer.Tokenize(l.Text)
			if da, db := a.Distance(tokens), b.Distance(tokens); da != db {
				t.Errorf("%s: distance %v != %v for %q", id, da, db, l.Text)
			}
		}
	}
}

func TestMarshalKeepsFailures(t *testing.T) {
	m := &Model{
		fingerprint: "fp",
		params:      DefaultOptions().Index,
		indexes:     map[source.ID]*index.Index{},
		failures:    map[source.ID]string{"bad.log": "training bad.log panicked: boom"},
	}
	blob, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	restored, err := Unmarshal(blob)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg, ok := restored.Failure("bad.log"); !ok || msg != "training bad.log panicked: boom" {
		t.Errorf("failure not restored: %q %v", msg, ok)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	t.Run("garbage", func(t *testing.T) {
		if _, err := Unmarshal([]byte("not a model")); !errors.Is(err, ErrCorruptModel) {
			t.Errorf("expected ErrCorruptModel, got %v", err)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		blob := zstdEncoder.EncodeAll([]byte(`{"version":99,"params":{"dimensions":8,"seed":1}}`), nil)
		if _, err := Unmarshal(blob); !errors.Is(err, ErrIncompatible) {
			t.Errorf("expected ErrIncompatible, got %v", err)
		}
	})

	t.Run("mismatched params", func(t *testing.T) {
		blob := zstdEncoder.EncodeAll([]byte(`{"version":2,"params":{"dimensions":8,"seed":1},`+
			`"sources":[{"source":"a","index":{"params":{"dimensions":16,"seed":1},"rows":[]}}]}`), nil)
		if _, err := Unmarshal(blob); !errors.Is(err, ErrIncompatible) {
			t.Errorf("expected ErrIncompatible, got %v", err)
		}
	})
}
