package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shaiso/Techne/internal/config"
	"github.com/shaiso/Techne/internal/engine"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	eng, err := engine.New(engine.Config{Settings: config.Default()})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Shutdown)

	mux := http.NewServeMux()
	NewHandler(Config{Engine: eng}).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s response: %v\nbody: %s", method, path, err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestCreatePlanAndGet(t *testing.T) {
	mux := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodPost, "/api/v1/plans",
		`{"problem":"reduce churn","techniques":["po","six_hats"],"execution_mode":"parallel"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create plan: status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}

	data := body["data"].(map[string]any)
	planID, _ := data["plan_id"].(string)
	if planID == "" {
		t.Fatal("create plan: empty plan_id")
	}

	rec, body = doJSON(t, mux, http.MethodGet, "/api/v1/plans/"+planID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get plan: status = %d, want 200", rec.Code)
	}
	data = body["data"].(map[string]any)
	if got := data["plan_id"]; got != planID {
		t.Errorf("get plan: plan_id = %v, want %s", got, planID)
	}
}

func TestGetPlanNotFound(t *testing.T) {
	mux := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodGet, "/api/v1/plans/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	errDetail := body["error"].(map[string]any)
	if errDetail["code"] != "PLAN_NOT_FOUND" {
		t.Errorf("error code = %v, want PLAN_NOT_FOUND", errDetail["code"])
	}
}

func TestCreateStepValidation(t *testing.T) {
	mux := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodPost, "/api/v1/steps",
		`{"technique":"","current_step":1,"total_steps":4,"output":"x","next_step_needed":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", rec.Code, rec.Body.String())
	}
	errDetail := body["error"].(map[string]any)
	if errDetail["code"] != "MISSING_PARAMETER" {
		t.Errorf("error code = %v, want MISSING_PARAMETER", errDetail["code"])
	}
	if errDetail["category"] != "validation" {
		t.Errorf("category = %v, want validation", errDetail["category"])
	}
}

func TestStepAndSessionLifecycle(t *testing.T) {
	mux := newTestMux(t)

	rec, _ := doJSON(t, mux, http.MethodPost, "/api/v1/steps",
		`{"technique":"po","problem":"reduce churn","current_step":1,"total_steps":4,"output":"provocation","next_step_needed":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("step: status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	rec, body := doJSON(t, mux, http.MethodGet, "/api/v1/sessions?technique=po", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list sessions: status = %d, want 200", rec.Code)
	}
	if total := body["total"].(float64); total != 1 {
		t.Fatalf("list sessions: total = %v, want 1", total)
	}

	sessions := body["data"].([]any)
	id := sessions[0].(map[string]any)["id"].(string)

	rec, _ = doJSON(t, mux, http.MethodGet, "/api/v1/sessions/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get session: status = %d, want 200", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodDelete, "/api/v1/sessions/"+id, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete session: status = %d, want 204", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/api/v1/sessions/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted session: status = %d, want 404", rec.Code)
	}
}

func TestGroupEndpoints(t *testing.T) {
	mux := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodPost, "/api/v1/plans",
		`{"problem":"reduce churn","techniques":["po","six_hats"],"execution_mode":"parallel"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create plan: status = %d", rec.Code)
	}

	data := body["data"].(map[string]any)
	groups := data["groups"].([]any)
	groupID := groups[0].(map[string]any)["group_id"].(string)

	rec, _ = doJSON(t, mux, http.MethodGet, "/api/v1/groups/"+groupID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get group: status = %d, want 200", rec.Code)
	}

	rec, body = doJSON(t, mux, http.MethodGet, "/api/v1/groups/"+groupID+"/progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("group progress: status = %d, want 200", rec.Code)
	}
	progress := body["data"].(map[string]any)
	if progress["group_id"] != groupID {
		t.Errorf("group progress: group_id = %v, want %s", progress["group_id"], groupID)
	}

	rec, body = doJSON(t, mux, http.MethodGet, "/api/v1/groups/"+groupID+"/deadlock", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deadlock check: status = %d, want 200", rec.Code)
	}
	check := body["data"].(map[string]any)
	if check["deadlocked"] != false {
		t.Errorf("deadlocked = %v, want false", check["deadlocked"])
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/api/v1/groups/"+groupID+"/context", "")
	if rec.Code != http.StatusOK {
		t.Errorf("group context: status = %d, want 200", rec.Code)
	}

	rec, _ = doJSON(t, mux, http.MethodGet, "/api/v1/groups/"+groupID+"/resolution", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("resolution: status = %d, want 404 before completion", rec.Code)
	}
}

func TestWaitingStepReturnsAccepted(t *testing.T) {
	mux := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodPost, "/api/v1/plans",
		`{"problem":"improve onboarding","techniques":["triz","concept_extraction"],"execution_mode":"parallel"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create plan: status = %d", rec.Code)
	}

	data := body["data"].(map[string]any)
	groups := data["groups"].([]any)

	// Жёстко зависимая пара никогда не попадает в одну группу —
	// зависимую сессию ищем по всем группам плана.
	var dependent map[string]any
	for _, rawGroup := range groups {
		for _, raw := range rawGroup.(map[string]any)["sessions"].([]any) {
			s := raw.(map[string]any)
			if deps, ok := s["depends_on"].([]any); ok && len(deps) > 0 {
				dependent = s
			}
		}
	}
	if dependent == nil {
		t.Fatal("no session with hard dependency in plan")
	}

	stepBody := fmt.Sprintf(
		`{"session_id":%q,"technique":%q,"current_step":1,"total_steps":4,"output":"x","next_step_needed":true}`,
		dependent["session_id"], dependent["technique"])
	rec, body = doJSON(t, mux, http.MethodPost, "/api/v1/steps", stepBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", rec.Code, rec.Body.String())
	}
	resp := body["data"].(map[string]any)
	if resp["waiting"] != true {
		t.Errorf("waiting = %v, want true", resp["waiting"])
	}
}
