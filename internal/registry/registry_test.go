package registry

import (
	"testing"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/logging"
)

func testLogger() *logging.Logger {
	return logging.New("registry-test", "error", "text")
}

func validRegisterRequest(machine string, port int) model.RegisterRequest {
	return model.RegisterRequest{
		MachineName:    machine,
		IPAddress:      "10.0.0.1",
		RuntimeVersion: "0.1.0",
		RuntimePort:    port,
		GPUAvailable:   true,
		GPUDevices:     []model.GPUDevice{{Model: "Test GPU", Count: 1}},
	}
}

func TestRegister_NewThenUpdate(t *testing.T) {
	r, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := validRegisterRequest("n1", 11434)
	id1, outcome1, port1, err := r.Register(req)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if outcome1 != Registered {
		t.Fatalf("outcome = %v, want Registered", outcome1)
	}
	if port1 != 11435 {
		t.Fatalf("control port = %d, want 11435", port1)
	}

	id2, outcome2, _, err := r.Register(req)
	if err != nil {
		t.Fatalf("Register() second call error = %v", err)
	}
	if outcome2 != Updated {
		t.Fatalf("outcome = %v, want Updated", outcome2)
	}
	if id1 != id2 {
		t.Fatalf("node id changed across re-registration: %s != %s", id1, id2)
	}

	n, ok := r.Get(id1)
	if !ok {
		t.Fatal("Get() after register: not found")
	}
	if n.GPUCount != 1 || n.GPUModel != "Test GPU" {
		t.Fatalf("derived gpu aggregates = (%d, %q), want (1, \"Test GPU\")", n.GPUCount, n.GPUModel)
	}
}

func TestRegister_RejectsMissingGPU(t *testing.T) {
	r, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := validRegisterRequest("n1", 11434)
	req.GPUAvailable = false

	if _, _, _, err := r.Register(req); err == nil {
		t.Fatal("Register() with gpu_available=false: want error, got nil")
	}

	req.GPUAvailable = true
	req.GPUDevices = nil
	if _, _, _, err := r.Register(req); err == nil {
		t.Fatal("Register() with empty gpu_devices: want error, got nil")
	}

	req.GPUDevices = []model.GPUDevice{{Model: "", Count: 1}}
	if _, _, _, err := r.Register(req); err == nil {
		t.Fatal("Register() with empty device model: want error, got nil")
	}

	req.GPUDevices = []model.GPUDevice{{Model: "GPU", Count: 0}}
	if _, _, _, err := r.Register(req); err == nil {
		t.Fatal("Register() with zero device count: want error, got nil")
	}
}

func TestDeleteThenGet(t *testing.T) {
	r, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	id, _, _, err := r.Register(validRegisterRequest("n1", 11434))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := r.Delete(id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := r.Get(id); ok {
		t.Fatal("Get() after Delete(): want not found")
	}
}

func TestUpdateSettings_NullableClear(t *testing.T) {
	r, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	id, _, _, err := r.Register(validRegisterRequest("n1", 11434))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	name := "friendly-name"
	if err := r.UpdateSettings(id, model.SettingsUpdate{
		CustomName: &model.NullableString{Value: name, Valid: true},
	}); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}
	n, _ := r.Get(id)
	if n.CustomName == nil || *n.CustomName != name {
		t.Fatalf("CustomName = %v, want %q", n.CustomName, name)
	}

	if err := r.UpdateSettings(id, model.SettingsUpdate{
		CustomName: &model.NullableString{Valid: false},
	}); err != nil {
		t.Fatalf("UpdateSettings() clear error = %v", err)
	}
	n, _ = r.Get(id)
	if n.CustomName != nil {
		t.Fatalf("CustomName after clear = %v, want nil", n.CustomName)
	}
}

func TestList_SortedByRegisteredAt(t *testing.T) {
	r, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i, machine := range []string{"n1", "n2", "n3"} {
		if _, _, _, err := r.Register(validRegisterRequest(machine, 11434+i)); err != nil {
			t.Fatalf("Register(%s) error = %v", machine, err)
		}
	}

	nodes := r.List()
	if len(nodes) != 3 {
		t.Fatalf("List() length = %d, want 3", len(nodes))
	}
	for i := 1; i < len(nodes); i++ {
		if nodes[i].RegisteredAt.Before(nodes[i-1].RegisteredAt) {
			t.Fatalf("List() not sorted ascending by RegisteredAt at index %d", i)
		}
	}
}

func TestMarkModelLoaded_SortedDeduped(t *testing.T) {
	r, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	id, _, _, _ := r.Register(validRegisterRequest("n1", 11434))

	for _, m := range []string{"zeta", "alpha", "zeta"} {
		if err := r.MarkModelLoaded(id, m); err != nil {
			t.Fatalf("MarkModelLoaded(%s) error = %v", m, err)
		}
	}

	n, _ := r.Get(id)
	want := []string{"alpha", "zeta"}
	if len(n.LoadedModels) != len(want) {
		t.Fatalf("LoadedModels = %v, want %v", n.LoadedModels, want)
	}
	for i := range want {
		if n.LoadedModels[i] != want[i] {
			t.Fatalf("LoadedModels = %v, want %v", n.LoadedModels, want)
		}
	}
}
