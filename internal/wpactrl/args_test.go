package wpactrl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFormatDeauth(t *testing.T) {
	addr := "02:00:00:00:00:00"
	cases := []struct {
		verb string
		opts []DeauthOpt
		want string
	}{
		{verb: "DEAUTHENTICATE", want: "DEAUTHENTICATE " + addr},
		{verb: "DEAUTHENTICATE", opts: []DeauthOpt{NoTx()}, want: "DEAUTHENTICATE " + addr + " tx=0"},
		{verb: "DISASSOCIATE", opts: []DeauthOpt{Protected(true)}, want: "DISASSOCIATE " + addr + " test=1"},
		{
			verb: "DEAUTHENTICATE",
			opts: []DeauthOpt{Protected(false), Reason(6)},
			want: "DEAUTHENTICATE " + addr + " reason=6 test=0",
		},
	}

	for _, c := range cases {
		if got := FormatDeauth(c.verb, addr, c.opts...); got != c.want {
			t.Errorf("FormatDeauth() = %q, want %q", got, c.want)
		}
	}
}

// scripted replies in order and records each command.
type scripted struct {
	replies []string
	cmds    []string
}

func (s *scripted) Request(cmd string) (string, error) {
	s.cmds = append(s.cmds, cmd)
	if len(s.replies) == 0 {
		return "", errors.New("no reply scripted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func TestFailGuard(t *testing.T) {
	r := &scripted{replies: []string{"OK", "1:=sme_sa_query_timer", "0:=sme_sa_query_timer", "OK"}}

	g, err := AllocFail(r, 1, "=sme_sa_query_timer")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := g.Close(); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"TEST_ALLOC_FAIL 1:=sme_sa_query_timer",
		"GET_ALLOC_FAIL",
		"GET_ALLOC_FAIL",
		"TEST_ALLOC_FAIL 0:",
	}
	if diff := cmp.Diff(want, r.cmds); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestFailGuard_unsupported(t *testing.T) {
	r := &scripted{replies: []string{"UNKNOWN COMMAND"}}
	_, err := FailTest(r, 1, "os_get_random;sme_sa_query_timer")
	var failed *ErrFailed
	if !errors.As(err, &failed) {
		t.Fatalf("expected *ErrFailed, got %v", err)
	}
	if failed.Cmd != "TEST_FAIL 1:os_get_random;sme_sa_query_timer" {
		t.Errorf("Cmd = %q", failed.Cmd)
	}
}

func TestFailGuard_canceled(t *testing.T) {
	r := &scripted{replies: []string{"OK", "1:x", "1:x"}}
	g, err := FailTest(r, 1, "x")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() = %v, want context.Canceled", err)
	}
}

func TestFailGuard_notTriggered(t *testing.T) {
	cases := []struct {
		start func(Requester) (*FailGuard, error)
		reply string
		want  string
	}{
		{
			start: func(r Requester) (*FailGuard, error) { return AllocFail(r, 1, "=sme_sa_query_timer") },
			reply: "1:=sme_sa_query_timer",
			want:  "allocation failure did not trigger (=sme_sa_query_timer)",
		},
		{
			start: func(r Requester) (*FailGuard, error) { return FailTest(r, 1, "os_get_random;sme_sa_query_timer") },
			reply: "1:os_get_random;sme_sa_query_timer",
			want:  "TEST_FAIL did not trigger (os_get_random;sme_sa_query_timer)",
		},
	}
	for _, c := range cases {
		r := &scripted{replies: []string{"OK", c.reply, c.reply}}
		g, err := c.start(r)
		if err != nil {
			t.Fatal(err)
		}
		g.attempts, g.interval = 2, time.Millisecond

		err = g.Wait(context.Background())
		if !errors.Is(err, ErrFailureNotTriggered) {
			t.Fatalf("Wait() = %v, want ErrFailureNotTriggered", err)
		}
		if err.Error() != c.want {
			t.Errorf("Wait() = %q, want %q", err, c.want)
		}
	}
}
