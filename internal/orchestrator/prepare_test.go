package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/orca-live/orcad/internal/store"
)

func TestPrepareJob402MovesToPaymentPending(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start_job/prepare" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"pay_to":"0xvault","amount":10}`))
	}))
	defer agent.Close()

	st := newFakeStore()
	seedPreparedJob(st, "job-1", agent.URL)
	o := New(st, "0rca.live", NewAgentClient(5*time.Second), quietLogger())

	res, err := o.PrepareJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !res.PaymentRequired || res.State != store.JobStatePaymentPending {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Response) != `{"pay_to":"0xvault","amount":10}` {
		t.Fatalf("402 body must pass through verbatim, got %s", res.Response)
	}
	if got := st.jobs["job-1"].State; got != store.JobStatePaymentPending {
		t.Fatalf("job state = %s, want payment_pending", got)
	}
}

func TestPrepareJob200IsAckWithoutTransition(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer agent.Close()

	st := newFakeStore()
	seedPreparedJob(st, "job-1", agent.URL)
	o := New(st, "0rca.live", NewAgentClient(5*time.Second), quietLogger())

	res, err := o.PrepareJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if res.PaymentRequired {
		t.Fatalf("200 must not require payment")
	}
	if got := st.jobs["job-1"].State; got != store.JobStatePrepared {
		t.Fatalf("200 must not transition, got %s", got)
	}
}

func TestPrepareJobUnexpectedStatus(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer agent.Close()

	st := newFakeStore()
	seedPreparedJob(st, "job-1", agent.URL)
	o := New(st, "0rca.live", NewAgentClient(5*time.Second), quietLogger())

	if _, err := o.PrepareJob(context.Background(), "job-1"); !errors.Is(err, ErrAgentCall) {
		t.Fatalf("expected ErrAgentCall, got %v", err)
	}
	if got := st.jobs["job-1"].State; got != store.JobStatePrepared {
		t.Fatalf("unexpected status must not transition, got %s", got)
	}
}

func TestPrepareJobRejectsNonPrepared(t *testing.T) {
	st := newFakeStore()
	seedPreparedJob(st, "job-1", "solver")
	j := st.jobs["job-1"]
	j.State = store.JobStatePaymentPending
	st.jobs["job-1"] = j

	o := New(st, "0rca.live", nil, quietLogger())
	if _, err := o.PrepareJob(context.Background(), "job-1"); !errors.Is(err, ErrJobNotPrepared) {
		t.Fatalf("expected ErrJobNotPrepared, got %v", err)
	}
}
