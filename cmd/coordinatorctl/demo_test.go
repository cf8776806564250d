package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestDemo_RunsEveryProtocol(t *testing.T) {
	c := DefaultConfig()
	c.LogLevel = "error"
	c.Serve.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := openSession(ctx, c)
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer func() { _ = sess.Stop(context.Background()) }()
	if err := sess.engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess.sandbox.seed()

	var out bytes.Buffer
	if err := runDemo(ctx, &out, sess.engine); err != nil {
		t.Fatalf("runDemo: %v\n%s", err, out.String())
	}

	for _, want := range []string{"listing-saga", "purchase-saga", "waiver", "resolution"} {
		if !strings.Contains(out.String(), "== "+want+" ") {
			t.Errorf("output missing %s run:\n%s", want, out.String())
		}
	}
	if got := strings.Count(out.String(), ": completed"); got != 4 {
		t.Errorf("completed runs = %d, want 4:\n%s", got, out.String())
	}
	if got := sess.sandbox.bank.Balance("bob"); got >= 10000 {
		t.Errorf("bob balance = %d, want the purchase captured", got)
	}
}
