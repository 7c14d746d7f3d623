package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"unirate/internal/bootstrap"
	"unirate/internal/domain"
	"unirate/internal/shared"
)

func withMemoryDeps(t *testing.T) *bootstrap.Deps {
	t.Helper()
	cfg := shared.Config{
		AnonStore:     "memory",
		RemoteBackend: "memory",
		AnonPolicy:    domain.DefaultPolicy,
		AuthPolicy:    domain.DefaultPolicy,
		AdminWorkers:  2,
	}
	deps, err := bootstrap.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	prevOpen, prevLoad := openDeps, loadConfig
	openDeps = func(ctx context.Context, _ shared.Config) (*bootstrap.Deps, error) { return deps, nil }
	loadConfig = func() shared.Config { return cfg }
	t.Cleanup(func() { openDeps, loadConfig = prevOpen, prevLoad })
	return deps
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQuotaShowAndReset(t *testing.T) {
	deps := withMemoryDeps(t)
	ctx := context.Background()
	devs := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, d := range devs {
		for _, r := range []string{"A", "B", "C"} {
			deps.Gate.RegisterView(ctx, d, r)
		}
	}

	out, err := run(t, "quota", "show", devs[0])
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var st domain.QuotaStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if st.State != domain.AtLimit || st.Count != 3 {
		t.Fatalf("unexpected status: %+v", st)
	}

	out, err = run(t, append([]string{"quota", "reset"}, devs...)...)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "reset 3 device(s)") {
		t.Fatalf("unexpected output %q", out)
	}
	for _, d := range devs {
		if res := deps.Gate.CanViewAnother(ctx, d, "D"); !res.Allowed {
			t.Fatalf("device %s still limited", d)
		}
	}
}

func TestQuotaReset_RejectsBadDeviceID(t *testing.T) {
	withMemoryDeps(t)
	if _, err := run(t, "quota", "reset", "nope"); err == nil {
		t.Fatalf("expected error for non-UUID device")
	}
}

func TestAccessGrantRevoke(t *testing.T) {
	withMemoryDeps(t)

	if out, err := run(t, "access", "grant", "u1"); err != nil || !strings.Contains(out, "granted") {
		t.Fatalf("grant: %q %v", out, err)
	}
	out, err := run(t, "access", "show", "u1")
	if err != nil || !strings.Contains(out, "unlimited=true") {
		t.Fatalf("show after grant: %q %v", out, err)
	}
	if out, err := run(t, "access", "revoke", "u1"); err != nil || !strings.Contains(out, "revoked") {
		t.Fatalf("revoke: %q %v", out, err)
	}
	out, err = run(t, "access", "show", "u1")
	if err != nil || !strings.Contains(out, "unlimited=false") {
		t.Fatalf("show after revoke: %q %v", out, err)
	}
}
