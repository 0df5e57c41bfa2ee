package gem

import (
	"errors"
	"testing"

	"github.com/arloliu/go-secs/secs2"
)

func TestRemoteCommandExecution(t *testing.T) {
	var got RemoteCommandRequest
	x := NewRemoteCommandExecutor(func() bool { return true }, nil, nil)

	err := x.Register(RemoteCommand{
		Name: "START",
		Handler: func(req RemoteCommandRequest) (uint8, error) {
			got = req
			return HCACKAcknowledge, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	hcack := x.Execute(RemoteCommandRequest{
		Command: "start",
		Parameters: []CommandParameter{
			{Name: "LOTID", Value: secs2.A("LOT42")},
		},
	})
	if hcack != HCACKAcknowledge {
		t.Fatalf("HCACK: got %d, want 0", hcack)
	}
	if got.Param("LOTID") == nil {
		t.Fatal("parameter not passed through")
	}

	if hcack := x.Execute(RemoteCommandRequest{Command: "NOPE"}); hcack != HCACKDeniedInvalidCommand {
		t.Fatalf("unknown command: HCACK %d", hcack)
	}
}

func TestRemoteCommandDeniedWhenNotRemote(t *testing.T) {
	x := NewRemoteCommandExecutor(func() bool { return false }, nil, nil)

	if err := x.Register(RemoteCommand{
		Name:    "STOP",
		Handler: func(RemoteCommandRequest) (uint8, error) { return HCACKAcknowledge, nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if hcack := x.Execute(RemoteCommandRequest{Command: "STOP"}); hcack != HCACKDeniedCannotPerformNow {
		t.Fatalf("HCACK: got %d, want %d", hcack, HCACKDeniedCannotPerformNow)
	}
}

func TestRemoteCommandCompletionEvent(t *testing.T) {
	var fired []uint32
	fire := func(ceid uint32) error {
		fired = append(fired, ceid)
		return nil
	}
	x := NewRemoteCommandExecutor(func() bool { return true }, fire, nil)

	if err := x.Register(RemoteCommand{
		Name:            "PP-SELECT",
		Handler:         func(RemoteCommandRequest) (uint8, error) { return HCACKAcknowledge, nil },
		CompletionEvent: 11010,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := x.Register(RemoteCommand{
		Name:            "ABORT",
		Handler:         func(RemoteCommandRequest) (uint8, error) { return HCACKDeniedParamInvalid, nil },
		CompletionEvent: 11011,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	x.Execute(RemoteCommandRequest{Command: "PP-SELECT"})
	x.Execute(RemoteCommandRequest{Command: "ABORT"})

	if len(fired) != 1 || fired[0] != 11010 {
		t.Fatalf("completion events: %v", fired)
	}
}

func TestRemoteCommandRegistrationErrors(t *testing.T) {
	x := NewRemoteCommandExecutor(nil, nil, nil)

	if err := x.Register(RemoteCommand{Name: ""}); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := x.Register(RemoteCommand{Name: "X"}); err == nil {
		t.Fatal("nil handler accepted")
	}

	handler := func(RemoteCommandRequest) (uint8, error) { return 0, nil }
	if err := x.Register(RemoteCommand{Name: "GO", Handler: handler}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := x.Register(RemoteCommand{Name: "go", Handler: handler}); err == nil {
		t.Fatal("case-insensitive duplicate accepted")
	}
}

func TestParseRemoteCommand(t *testing.T) {
	body := secs2.L(
		secs2.A("START"),
		secs2.L(
			secs2.L(secs2.A("LOTID"), secs2.A("LOT42")),
			secs2.L(secs2.A("SLOT"), secs2.U4(uint64(3))),
		),
	)

	req, err := parseRemoteCommand(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Command != "START" || len(req.Parameters) != 2 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Parameters[0].Name != "LOTID" || req.Parameters[1].Name != "SLOT" {
		t.Fatalf("parameter names: %+v", req.Parameters)
	}

	if _, err := parseRemoteCommand(secs2.A("nope")); !errors.Is(err, errMalformedItem) {
		t.Fatalf("malformed body: %v", err)
	}
}
