package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/shader"
	"github.com/gogpu/sketch/tilemem"
)

func testConfig() sketch.Config {
	cfg := sketch.DefaultConfig()
	cfg.CanvasWidth, cfg.CanvasHeight = 256, 256
	cfg.TileSize = 32
	cfg.ResidentByteBudget = 0
	cfg.PressureInterval = 0
	cfg.PersistBackoff = 0
	cfg.PersistAttempts = 3
	return cfg
}

func requirePassed(t *testing.T, r Report) {
	t.Helper()
	if !r.Passed() {
		t.Fatalf("report failed:\n%s", r)
	}
}

func TestRun(t *testing.T) {
	r := Run(context.Background(), testConfig())
	requirePassed(t, r)
	if got := len(r.Checks); got != len(Checks()) {
		t.Fatalf("ran %d checks, want %d", got, len(Checks()))
	}
	for i, name := range Checks() {
		if r.Checks[i].Name != name {
			t.Errorf("check %d = %q, want %q", i, r.Checks[i].Name, name)
		}
		if r.Checks[i].Detail == "" {
			t.Errorf("%s: no detail", name)
		}
	}
	if c, ok := r.Check(CheckBudget); !ok || !strings.Contains(c.Detail, "evictions") {
		t.Errorf("budget check = %+v", c)
	}
}

func TestRun_TileSizes(t *testing.T) {
	for _, ts := range []int{16, 64, 256} {
		t.Run(fmt.Sprint(ts), func(t *testing.T) {
			cfg := testConfig()
			cfg.TileSize = ts
			cfg.CanvasWidth, cfg.CanvasHeight = 8*ts, 8*ts
			requirePassed(t, Run(context.Background(), cfg))
		})
	}
}

func TestRun_BoltStore(t *testing.T) {
	dir := t.TempDir()
	opened := 0
	store := func(check string) (tilemem.Store, error) {
		opened++
		return tilemem.OpenBoltStore(filepath.Join(dir, fmt.Sprintf("%s-%d.db", check, opened)))
	}
	r := Run(context.Background(), testConfig(),
		WithStore(store), WithChecks(CheckRoundTrip, CheckPersistFailure))
	requirePassed(t, r)
	if len(r.Checks) != 3 {
		t.Errorf("ran %d checks, want init plus 2", len(r.Checks))
	}
	if opened != 3 {
		t.Errorf("opened %d stores, want 3", opened)
	}
}

func TestRun_Backend(t *testing.T) {
	created := 0
	r := Run(context.Background(), testConfig(),
		WithChecks(CheckRoundTrip),
		WithBackend(func() shader.Backend {
			created++
			return shader.NewSoftwareBackend()
		}))
	requirePassed(t, r)
	if created != 2 {
		t.Errorf("created %d backends, want 2", created)
	}
}

func TestRun_InitFailureStops(t *testing.T) {
	errDown := errors.New("disk gone")
	tests := []struct {
		name string
		cfg  func() sketch.Config
		opts []Option
		want error
	}{
		{
			name: "invalid config",
			cfg: func() sketch.Config {
				cfg := testConfig()
				cfg.TileSize = 100
				return cfg
			},
			want: sketch.ErrInvalidConfig,
		},
		{
			name: "store error",
			cfg:  testConfig,
			opts: []Option{WithStore(func(string) (tilemem.Store, error) { return nil, errDown })},
			want: errDown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Run(context.Background(), tt.cfg(), tt.opts...)
			if r.Passed() {
				t.Fatal("report passed")
			}
			if len(r.Checks) != 1 || r.Checks[0].Name != CheckInit {
				t.Fatalf("checks = %+v", r.Checks)
			}
			if !errors.Is(r.Checks[0].Err, tt.want) {
				t.Errorf("err = %v, want %v", r.Checks[0].Err, tt.want)
			}
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Run(ctx, testConfig())
	if r.Passed() {
		t.Fatal("cancelled run passed")
	}
	for _, c := range r.Checks {
		if !errors.Is(c.Err, context.Canceled) {
			t.Errorf("%s: err = %v", c.Name, c.Err)
		}
	}
}

func TestReport(t *testing.T) {
	r := Report{
		Checks: []Check{
			{Name: CheckInit, Passed: true, Duration: time.Millisecond, Detail: "ok"},
			{Name: CheckBudget, Err: failf("peak %d over budget %d", 10, 5)},
		},
		Elapsed: 3 * time.Millisecond,
	}
	if r.Passed() {
		t.Error("Passed with a failed check")
	}
	failed := r.Failed()
	if len(failed) != 1 || failed[0].Name != CheckBudget || !errors.Is(failed[0].Err, ErrCheckFailed) {
		t.Errorf("Failed = %+v", failed)
	}
	s := r.String()
	for _, want := range []string{"PASS  init", "FAIL  budget", "peak 10 over budget 5", "1/2 passed"} {
		if !strings.Contains(s, want) {
			t.Errorf("String missing %q:\n%s", want, s)
		}
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Checks []struct {
			Name   string `json:"name"`
			Passed bool   `json:"passed"`
			Error  string `json:"error"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Checks) != 2 || !decoded.Checks[0].Passed || !strings.Contains(decoded.Checks[1].Error, "over budget") {
		t.Errorf("json = %s", data)
	}
	if _, ok := r.Check("missing"); ok {
		t.Error("Check found a missing name")
	}
}
