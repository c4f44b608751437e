package tokenizer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func toks(words ...string) []Token {
	out := make([]Token, len(words))
	for i, w := range words {
		out[i] = Token(w)
	}
	return out
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Token
	}{
		{"empty", "", toks()},
		{"blank", "  \t ", toks()},
		{"words are case folded", "Service STARTED", toks("service", "started")},
		{"number", "port 8080", toks("port", "%num")},
		{"embedded digits", "took 120ms", toks("took", "%num", "ms")},
		{"bare hex", "commit 4f3a9c2e", toks("commit", "%hex")},
		{"prefixed hex", "addr 0x7ffd1a2b", toks("addr", "%hex")},
		{"short hex looking word stays", "face added", toks("face", "added")},
		{"uuid", "build 123e4567-e89b-12d3-a456-426614174000 done", toks("build", "%uuid", "done")},
		{"ipv4 with port", "connect to 10.0.0.12:5432 failed", toks("connect", "to", "%ip", "failed")},
		{"ipv6", "listen on fe80::1ff:fe23:4567:890a", toks("listen", "on", "%ip")},
		{"scoped name is not ipv6", "call Add::dead failed", toks("call", "add", "::", "dead", "failed")},
		{"float", "load 0.75 avg", toks("load", "%num", "avg")},
		{"inline datetime", "since 2023-04-05T06:07:08Z ok", toks("since", "%datetime", "ok")},
		{"inline date", "on 2023/04/05", toks("on", "%date")},
		{"inline time", "at 6:07:08", toks("at", "%time")},
		{"url", "GET https://example.org/a?b=1 200", toks("get", "%url", "%num")},
		{"path", "open /var/log/syslog: denied", toks("open", "%path", ":", "denied")},
		{"path after equals", "file=/tmp/x.txt", toks("file", "=", "%path")},
		{"relative path is lexed", "see docs/readme", toks("see", "docs", "/", "readme")},
		{"long identifier", "token a1b2c3d4e5f6g7h8i9 used", toks("token", "%id", "used")},
		{"long letter identifier", "session QmXoYpIzJwWkNfRtLbVcHsGdUeAyTiOpKjMnBvCx expired", toks("session", "%id", "expired")},
		{"camel case word stays", "caught ConnectionRefusedException", toks("caught", "connectionrefusedexception")},
		{"punctuation runs", "panic: nil pointer dereference", toks("panic", ":", "nil", "pointer", "dereference")},
		{"iso timestamp prefix", "2024-01-02T03:04:05.678Z | INFO task ok", toks("task", "ok")},
		{"syslog prefix", "Jan  2 03:04:05 booted", toks("booted")},
		{"bracketed level", "[warning] disk low", toks("disk", "low")},
		{"lowercase word is content", "error: disk low", toks("error", ":", "disk", "low")},
		{"pid prefix", "[pid 42] worker ready", toks("worker", "ready")},
		{"kernel uptime", "[   12.345678] eth0 up", toks("eth", "%num", "up")},
		{"invalid utf8", "bad \xff byte", toks("bad", "�", "byte")},
		{"unicode letters", "Ünïcode wörd", toks("ünïcode", "wörd")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.line)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestMaskingEquivalence(t *testing.T) {
	pairs := [][2]string{
		{"request id 4f3a9c2e took 120ms", "request id 9b0012ff took 87ms"},
		{"service started on port 8080", "service started on port 9090"},
		{"2023-01-01 10:00:00 INFO connected to 10.0.0.1", "2024-12-31 23:59:59 INFO connected to 192.168.1.200"},
		{"job 11111111-2222-3333-4444-555555555555 queued", "job aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee queued"},
		{"token ZxYwVuTsRqPoNmLkJiHgFeDcBa issued", "token aBcDeFgHiJkLmNoPqRsTuVwXyZ issued"},
	}

	for _, p := range pairs {
		if diff := cmp.Diff(Tokenize(p[0]), Tokenize(p[1])); diff != "" {
			t.Errorf("expected %q and %q to tokenize identically:\n%s", p[0], p[1], diff)
		}
	}

	if cmp.Equal(Tokenize("value 1234"), Tokenize("value 0x1234")) {
		t.Error("number and hex placeholders must be distinguishable")
	}
}

func TestTokenizeDeterministic(t *testing.T) {
	line := "2024-05-06 07:08:09,123 ERROR [pid 7] GET http://h/x failed after 3.5s from 10.1.2.3"
	first := Tokenize(line)
	for i := 0; i < 50; i++ {
		if diff := cmp.Diff(first, Tokenize(line)); diff != "" {
			t.Fatalf("run %d differs:\n%s", i, diff)
		}
	}
}

func TestTruncation(t *testing.T) {
	tk, err := New(Options{MaxTokens: 5})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got := tk.Tokenize(strings.Repeat("word ", 100))
	if len(got) != 5 {
		t.Errorf("expected 5 tokens, got %d", len(got))
	}

	tk, err = New(Options{MaxLineBytes: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if diff := cmp.Diff(toks("abcd", "efgh"), tk.Tokenize("abcd efgh ijkl mnop")); diff != "" {
		t.Errorf("byte truncation mismatch:\n%s", diff)
	}
}

func TestMaskerSelection(t *testing.T) {
	if _, err := New(Options{Maskers: []string{"nope"}}); err == nil {
		t.Error("expected error for unknown masker")
	}

	tk, err := New(Options{Maskers: []string{"ipv4"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	got := tk.Tokenize("from 10.0.0.1 see https://x.org")
	want := toks("from", "%ip", "see", "https", "://", "x", ".", "org")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestOptionsEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Options
		want bool
	}{
		{"defaults fill unset fields", Options{}, DefaultOptions(), true},
		{"different maskers", Options{Maskers: []string{"uuid"}}, DefaultOptions(), false},
		{"different max tokens", Options{MaxTokens: 8}, Options{MaxTokens: 9}, false},
		{"same maskers", Options{Maskers: []string{"ipv4", "uuid"}}, Options{Maskers: []string{"ipv4", "uuid"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey(t *testing.T) {
	if Key(toks("a b")) == Key(toks("a", "b")) {
		t.Error("keys must not collide across token boundaries")
	}
	if Key(nil) != "" {
		t.Error("empty sequence should have empty key")
	}
}
