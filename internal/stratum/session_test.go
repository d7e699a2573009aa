package stratum

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solomine/bchpool/pkg/log"
)

type echoHandler struct{}

func (echoHandler) HandleMessage(ctx context.Context, s *Session, msg *Message) error {
	return s.SendResponse(msg.ID, msg.Method)
}

func TestSessionRequestResponse(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	logger := log.New("test", "dev", "error", "text")
	var closes atomic.Int32
	session := NewSession("sess_1", NewTCPConn(server), logger, 5*time.Second, 5*time.Second, func(*Session) {
		closes.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Start(ctx, echoHandler{})

	if _, err := client.Write([]byte(`{"id":1,"method":"mining.subscribe","params":[]}` + "\n")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if !strings.Contains(reply, `"result":"mining.subscribe"`) {
		t.Errorf("reply = %s", reply)
	}

	// Closing is idempotent and fires the hook exactly once.
	session.Close()
	session.Close()
	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatal("session never signalled done")
	}
	if got := closes.Load(); got != 1 {
		t.Errorf("close hook fired %d times, want 1", got)
	}
}

func TestSessionStateAccessors(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	logger := log.New("test", "dev", "error", "text")
	s := NewSession("sess_2", NewTCPConn(server), logger, time.Second, time.Second, nil)

	if s.IsSubscribed() || s.IsAuthorized() {
		t.Error("fresh session must be unsubscribed and unauthorized")
	}
	if s.Difficulty() != 1.0 {
		t.Errorf("default difficulty = %v, want 1.0", s.Difficulty())
	}

	s.SetSubscribed(true)
	s.SetAuthorized(true)
	s.SetAddress("bchtest:qq1234")
	s.SetWorkerName("rig1")
	s.SetExtraNonce1("00112233445566778899aabbccddeeff")
	s.SetDifficulty(64)
	s.SetJobID("job_1_00000001_broadcast")

	if !s.IsSubscribed() || !s.IsAuthorized() {
		t.Error("state flags not persisted")
	}
	if s.Address() != "bchtest:qq1234" || s.WorkerName() != "rig1" {
		t.Error("identity not persisted")
	}
	if len(s.ExtraNonce1()) != 32 {
		t.Errorf("extranonce1 length = %d, want 32 hex chars", len(s.ExtraNonce1()))
	}
	if s.Difficulty() != 64 || s.JobID() != "job_1_00000001_broadcast" {
		t.Error("difficulty or job id not persisted")
	}
	if s.ID() != "sess_2" {
		t.Errorf("ID() = %s", s.ID())
	}
}

func TestSendErrorWireShape(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	logger := log.New("test", "dev", "error", "text")
	session := NewSession("sess_3", NewTCPConn(server), logger, 5*time.Second, 5*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.writeLoop(ctx)
	defer session.Close()

	if err := session.SendError(4, ErrorJobNotFound, "Job j1 not found"); err != nil {
		t.Fatalf("SendError() error = %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if !strings.Contains(line, `"error":[21,"Job j1 not found",null]`) {
		t.Errorf("wire error = %s", line)
	}
}
