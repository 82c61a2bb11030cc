package config_test

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/chatgate/config"
)

func TestHolder_Get(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, minimalConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Assistant.OpenAI.AssistantID != "asst_1" {
		t.Errorf("AssistantID = %s, want asst_1", got.Assistant.OpenAI.AssistantID)
	}
}

func TestHolder_Reload(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, minimalConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if got := h.Get().Quota.MaxMessagesPerDay; got != 20 {
		t.Errorf("initial MaxMessagesPerDay = %d, want 20", got)
	}

	if err := os.WriteFile(path, []byte(minimalConfig()+`
quota:
  max_messages_per_day: 40
`), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if got := h.Get().Quota.MaxMessagesPerDay; got != 40 {
		t.Errorf("reloaded MaxMessagesPerDay = %d, want 40", got)
	}
}

func TestHolder_OnChange(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, minimalConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var received *config.Config
	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		received = cfg
		mu.Unlock()
	})

	if err := os.WriteFile(path, []byte(minimalConfig()+`
  instructions: "Seja breve."
`), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("OnChange callback was not called")
	}
	if received.Assistant.Instructions != "Seja breve." {
		t.Errorf("callback Instructions = %q, want %q", received.Assistant.Instructions, "Seja breve.")
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, minimalConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var reloadErr error
	h.OnError(func(err error) { reloadErr = err })

	// Missing provider credentials
	if err := os.WriteFile(path, []byte("quota:\n  cooldown: 5s\n"), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if reloadErr == nil {
		t.Error("OnError callback was not called")
	}

	cfg := h.Get()
	if cfg.Quota.Cooldown != 15*time.Second {
		t.Errorf("should keep old config, got Cooldown = %v", cfg.Quota.Cooldown)
	}
}

func TestHolder_NewHolderFrom(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATGATE_GEMINI_API_KEY", "g")
	t.Setenv("CHATGATE_PROVIDER", "gemini")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}

	h := config.NewHolderFrom(cfg, "", zerolog.Nop())
	defer h.Stop()

	if h.Get() != cfg {
		t.Error("Get should return the wrapped config")
	}
	if err := h.Reload(); err == nil {
		t.Error("Reload without a path should fail")
	}
	if h.Get() != cfg {
		t.Error("failed reload replaced the config")
	}
}

func TestHolder_WatchFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, minimalConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	if err := os.WriteFile(path, []byte(minimalConfig()+`
quota:
  cooldown: 7s
`), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Get().Quota.Cooldown == 7*time.Second {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("after file watch, Cooldown = %v, want 7s", h.Get().Quota.Cooldown)
}

func TestHolder_StopTwice(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, minimalConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	h.WatchSignals()
	h.Stop()
	h.Stop()
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, minimalConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}

	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.Reload()
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			t.Errorf("concurrent Reload error: %v", err)
		}
	}
}
