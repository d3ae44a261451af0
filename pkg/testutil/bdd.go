package testutil

import "testing"

// Given, When and Then nest subtests under readable scenario names.
func Given(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Given ", desc, fn) }

func When(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "When ", desc, fn) }

func Then(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Then ", desc, fn) }

func step(t *testing.T, prefix, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(prefix+desc, fn)
}
