package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orca-live/orcad/internal/store"
)

func seedPreparedJob(st *fakeStore, jobID, agentSubdomain string) {
	st.agents["agent-1"] = store.Agent{ID: "agent-1", Subdomain: agentSubdomain, Name: "Solver"}
	st.jobs[jobID] = store.Job{
		JobID:         jobID,
		ParentJobID:   "wf-1",
		AgentID:       "agent-1",
		RequesterAddr: "0xcaller",
		JobInput:      json.RawMessage(`{"prompt":"solve it","step":1}`),
		State:         store.JobStatePrepared,
	}
}

func TestExecuteJobCompletesOn200(t *testing.T) {
	var gotBody map[string]string
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/execute" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":42}`))
	}))
	defer agent.Close()

	st := newFakeStore()
	seedPreparedJob(st, "job-1", agent.URL)
	o := New(st, "0rca.live", NewAgentClient(5*time.Second), quietLogger())

	out, err := o.ExecuteJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(out) != `{"answer":42}` {
		t.Fatalf("unexpected output: %s", out)
	}
	if gotBody["prompt"] != "solve it" {
		t.Fatalf("agent got prompt %q", gotBody["prompt"])
	}

	j := st.jobs["job-1"]
	if j.State != store.JobStateCompleted {
		t.Fatalf("job state = %s, want completed", j.State)
	}
	if string(j.JobOutput) != `{"answer":42}` {
		t.Fatalf("job output not recorded: %s", j.JobOutput)
	}
}

func TestExecuteJobNon200LeavesJobPrepared(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer agent.Close()

	st := newFakeStore()
	seedPreparedJob(st, "job-1", agent.URL)
	o := New(st, "0rca.live", NewAgentClient(5*time.Second), quietLogger())

	_, err := o.ExecuteJob(context.Background(), "job-1")
	if !errors.Is(err, ErrAgentCall) {
		t.Fatalf("expected ErrAgentCall, got %v", err)
	}
	if got := st.jobs["job-1"].State; got != store.JobStatePrepared {
		t.Fatalf("failed dispatch must leave job prepared, got %s", got)
	}
}

func TestExecuteJobTransportErrorLeavesJobPrepared(t *testing.T) {
	st := newFakeStore()
	// Nothing listens here.
	seedPreparedJob(st, "job-1", "http://127.0.0.1:1")
	o := New(st, "0rca.live", NewAgentClient(time.Second), quietLogger())

	_, err := o.ExecuteJob(context.Background(), "job-1")
	if !errors.Is(err, ErrAgentCall) {
		t.Fatalf("expected ErrAgentCall, got %v", err)
	}
	if got := st.jobs["job-1"].State; got != store.JobStatePrepared {
		t.Fatalf("transport failure must leave job prepared, got %s", got)
	}
}

func TestExecuteJobRejectsNonPrepared(t *testing.T) {
	st := newFakeStore()
	seedPreparedJob(st, "job-1", "solver")
	j := st.jobs["job-1"]
	j.State = store.JobStateCompleted
	st.jobs["job-1"] = j

	o := New(st, "0rca.live", nil, quietLogger())
	_, err := o.ExecuteJob(context.Background(), "job-1")
	if !errors.Is(err, ErrJobNotPrepared) {
		t.Fatalf("expected ErrJobNotPrepared, got %v", err)
	}
	if got := st.jobs["job-1"].State; got != store.JobStateCompleted {
		t.Fatalf("guard must not mutate state, got %s", got)
	}
}

func TestExecuteJobUnknownJob(t *testing.T) {
	o := New(newFakeStore(), "0rca.live", nil, quietLogger())
	if _, err := o.ExecuteJob(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestExecuteJobWithoutAgent(t *testing.T) {
	st := newFakeStore()
	st.jobs["job-1"] = store.Job{
		JobID:         "job-1",
		RequesterAddr: "0xcaller",
		JobInput:      json.RawMessage(`{"prompt":"x"}`),
		State:         store.JobStatePrepared,
	}
	o := New(st, "0rca.live", nil, quietLogger())
	if _, err := o.ExecuteJob(context.Background(), "job-1"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestExecuteJobRejectsUnparseableAgentResponse(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer agent.Close()

	st := newFakeStore()
	seedPreparedJob(st, "job-1", agent.URL)
	o := New(st, "0rca.live", NewAgentClient(5*time.Second), quietLogger())

	_, err := o.ExecuteJob(context.Background(), "job-1")
	if !errors.Is(err, ErrAgentCall) {
		t.Fatalf("expected ErrAgentCall, got %v", err)
	}
	if got := st.jobs["job-1"].State; got != store.JobStatePrepared {
		t.Fatalf("bad body must leave job prepared, got %s", got)
	}
}
