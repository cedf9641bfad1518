package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/Tetsuuya/tasty-kitchen-3/internal/domain/cart"
)

// executeCommand runs the root command with args against the config file at
// cfgPath and returns stdout.
func executeCommand(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), err
}

// writeConfig writes a cartsync.yaml pointing at srv.
func writeConfig(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`remote:
  base_url: %s/api
  timeout: 5s
session:
  state_path: %s
journal:
  path: %s
log_level: error
`, srv.URL, filepath.Join(dir, "state.json"), filepath.Join(dir, "journal.db"))
	path := filepath.Join(dir, "cartsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCmd_CommandsRegistered(t *testing.T) {
	want := []string{"login", "logout", "show", "add", "remove", "update", "clear",
		"refresh", "checkout", "shell", "journal", "version"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestShowCmd_FlagDefaults(t *testing.T) {
	output, err := showCmd.Flags().GetString("output")
	if err != nil {
		t.Fatalf("failed to get output flag: %v", err)
	}
	if output != "table" {
		t.Errorf("output default = %q, want table", output)
	}
	qty, err := addCmd.Flags().GetInt("qty")
	if err != nil {
		t.Fatalf("failed to get qty flag: %v", err)
	}
	if qty != 1 {
		t.Errorf("qty default = %d, want 1", qty)
	}
}

func TestCommands_EndToEnd(t *testing.T) {
	k, srv := newKitchen(t)
	k.seed("alice", map[string]int{"1": 2}, "1")
	cfgPath := writeConfig(t, srv)

	out, err := executeCommand(t, cfgPath, "show")
	if err == nil || !strings.Contains(err.Error(), "not signed in") {
		t.Fatalf("show before login: err = %v, out = %q", err, out)
	}

	out, err = executeCommand(t, cfgPath, "login", "--identity", "alice", "--token", "tok-alice")
	if err != nil {
		t.Fatalf("login error = %v", err)
	}
	if !strings.Contains(out, "Signed in as alice (1 item in cart)") {
		t.Errorf("login output = %q", out)
	}

	if _, err = executeCommand(t, cfgPath, "add", "2", "--qty", "3"); err != nil {
		t.Fatalf("add error = %v", err)
	}
	if got := k.quantity("alice", "2"); got != 3 {
		t.Errorf("remote quantity of 2 = %d, want 3", got)
	}

	out, err = executeCommand(t, cfgPath, "show", "-o", "table")
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	for _, want := range []string{"Chicken Adobo", "Sinigang", cart.DefaultImageURL, "alice: 2 items, total 35.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	out, err = executeCommand(t, cfgPath, "checkout", "2", "-o", "json")
	if err != nil {
		t.Fatalf("checkout error = %v", err)
	}
	var receipt struct {
		ID    string `json:"id"`
		Total string `json:"total_amount"`
	}
	if err := json.Unmarshal([]byte(out), &receipt); err != nil {
		t.Fatalf("checkout output is not JSON: %v\n%s", err, out)
	}
	if receipt.ID != "1" || receipt.Total != "15" {
		t.Errorf("receipt = %+v", receipt)
	}

	out, err = executeCommand(t, cfgPath, "journal", "--limit", "50", "-o", "table")
	if err != nil {
		t.Fatalf("journal error = %v", err)
	}
	if !strings.Contains(out, "checkout") || !strings.Contains(out, "add") {
		t.Errorf("journal output missing rows:\n%s", out)
	}

	out, err = executeCommand(t, cfgPath, "logout")
	if err != nil {
		t.Fatalf("logout error = %v", err)
	}
	if !strings.Contains(out, "Signed out alice.") {
		t.Errorf("logout output = %q", out)
	}

	if _, err = executeCommand(t, cfgPath, "refresh"); err == nil {
		t.Error("refresh after logout should fail")
	}
}

func TestCheckoutCmd_RequiresSelection(t *testing.T) {
	_, srv := newKitchen(t)
	cfgPath := writeConfig(t, srv)
	checkoutAll = false

	_, err := executeCommand(t, cfgPath, "checkout", "-o", "table")
	if err == nil || !strings.Contains(err.Error(), "--all") {
		t.Errorf("checkout without ids: err = %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	_, srv := newKitchen(t)
	out, err := executeCommand(t, writeConfig(t, srv), "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "cartsync "+Version) {
		t.Errorf("version output = %q", out)
	}
}
