package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadEnv_FallsBackToGoModRoot(t *testing.T) {
	tmp := t.TempDir()

	requireWriteFile(t, filepath.Join(tmp, "go.mod"), "module example.com/test\n\ngo 1.22\n")
	requireWriteFile(t, filepath.Join(tmp, ".env.local"), "IOTA_ATTEST_TEST_ENV_LOAD=ok\n")

	sub := filepath.Join(tmp, "modules", "attestation")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	origWd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	require.NoError(t, os.Chdir(sub))

	_ = os.Unsetenv("IOTA_ATTEST_TEST_ENV_LOAD")

	n, err := LoadEnv([]string{".env", ".env.local"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "ok", os.Getenv("IOTA_ATTEST_TEST_ENV_LOAD"))
}

func TestAttestationOptions_Validate(t *testing.T) {
	valid := func() AttestationOptions {
		return AttestationOptions{
			ReminderAfter:    48 * time.Hour,
			ReminderInterval: 15 * time.Minute,
			MaxPeriodDays:    93,
			LockBackend:      " Redis ",
			NotifyTransport:  "NATS",
		}
	}

	opts := valid()
	require.NoError(t, opts.Validate())
	require.Equal(t, "redis", opts.LockBackend)
	require.Equal(t, "nats", opts.NotifyTransport)

	cases := map[string]func(*AttestationOptions){
		"zero reminder":     func(o *AttestationOptions) { o.ReminderAfter = 0 },
		"zero interval":     func(o *AttestationOptions) { o.ReminderInterval = 0 },
		"zero period":       func(o *AttestationOptions) { o.MaxPeriodDays = 0 },
		"unknown lock":      func(o *AttestationOptions) { o.LockBackend = "etcd" },
		"unknown transport": func(o *AttestationOptions) { o.NotifyTransport = "smtp" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := valid()
			mutate(&o)
			require.Error(t, o.Validate())
		})
	}
}

func TestConfiguration_CORSOrigins(t *testing.T) {
	c := &Configuration{AllowedOrigins: "http://a.local, ,http://b.local"}
	require.Equal(t, []string{"http://a.local", "http://b.local"}, c.CORSOrigins())
}

func requireWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
