package messaging

import (
	"context"
	"testing"

	"fleetbridge/config"
	"fleetbridge/protocol"
)

type recordingExecutor struct {
	got []protocol.CommandRequest
}

func (r *recordingExecutor) Execute(_ context.Context, req protocol.CommandRequest) protocol.CommandResult {
	r.got = append(r.got, req)
	return protocol.CommandResult{CommandID: req.CommandID, Status: "accepted"}
}

func testIntake(execer CommandExecutor) *Intake {
	cfg := config.Defaults()
	cfg.RobotID = "amr-7"
	client := NewClient(&cfg.Messaging)
	return NewIntake(client, NewPlatform(client, cfg), execer, cfg)
}

func TestIntakeAddressFilter(t *testing.T) {
	in := testIntake(&recordingExecutor{})

	cases := []struct {
		name string
		dst  protocol.Address
		want bool
	}{
		{"direct", protocol.Address{Role: protocol.RoleBridge, Robot: "amr-7"}, true},
		{"broadcast", protocol.Address{Role: protocol.RoleBridge, Robot: protocol.RobotBroadcast}, true},
		{"other robot", protocol.Address{Role: protocol.RoleBridge, Robot: "amr-8"}, false},
		{"wrong role", protocol.Address{Role: protocol.RolePlatform, Robot: "amr-7"}, false},
	}
	for _, tc := range cases {
		hdr := &protocol.RawHeader{Type: protocol.TypeCommandRequest, Dst: tc.dst}
		if got := in.forMe(hdr); got != tc.want {
			t.Errorf("%s: forMe = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIntakeQueuesInArrivalOrder(t *testing.T) {
	in := testIntake(&recordingExecutor{})

	for _, id := range []string{"c1", "c2", "c3"} {
		env, err := protocol.NewEnvelope(protocol.TypeCommandRequest,
			protocol.Address{Role: protocol.RolePlatform},
			protocol.Address{Role: protocol.RoleBridge, Robot: "amr-7"},
			&protocol.CommandRequest{CommandID: id, Kind: "pause", TargetMissionID: "m1"})
		if err != nil {
			t.Fatal(err)
		}
		var req protocol.CommandRequest
		if err := env.DecodePayload(&req); err != nil {
			t.Fatal(err)
		}
		in.HandleCommandRequest(env, &req)
	}

	for _, want := range []string{"c1", "c2", "c3"} {
		qc := <-in.queue
		if qc.req.CommandID != want {
			t.Fatalf("dequeued %s, want %s", qc.req.CommandID, want)
		}
	}
}

func TestIntakeDropsWhenQueueFull(t *testing.T) {
	in := testIntake(&recordingExecutor{})
	env := &protocol.Envelope{ID: "e1", Type: protocol.TypeCommandRequest}

	for i := 0; i < cap(in.queue)+5; i++ {
		in.HandleCommandRequest(env, &protocol.CommandRequest{CommandID: "c", Kind: "pause"})
	}
	if len(in.queue) != cap(in.queue) {
		t.Fatalf("queue len %d, want %d", len(in.queue), cap(in.queue))
	}
}
