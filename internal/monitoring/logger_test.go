package monitoring

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// Set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}

func TestConfigure(t *testing.T) {
	original := Logf
	var buf bytes.Buffer
	SetOutput(&buf)
	defer func() {
		Configure("info", false)
		SetOutput(os.Stderr)
		Logf = original
	}()

	Configure("debug", true)
	if Logger().GetLevel() != logrus.DebugLevel {
		t.Fatalf("level = %v, want debug", Logger().GetLevel())
	}

	Logger().WithField("vehicle_id", 7).Info("entry")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "entry" || entry["vehicle_id"] != float64(7) {
		t.Errorf("unexpected log entry: %v", entry)
	}

	buf.Reset()
	Logf("hello %d", 3)
	if !bytes.Contains(buf.Bytes(), []byte("hello 3")) {
		t.Errorf("Logf did not reach the shared logger: %q", buf.String())
	}

	Configure("nonsense", false)
	if Logger().GetLevel() != logrus.InfoLevel {
		t.Errorf("unknown level should fall back to info, got %v", Logger().GetLevel())
	}
}
