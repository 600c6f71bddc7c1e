package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/corelink/pkg/types"
)

func TestTCPCheckerHealthyWhenListenerAccepts(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	checker := NewTCPChecker(lis.Addr().String())
	result := checker.Check(context.Background())

	if !result.Healthy {
		t.Errorf("expected healthy result, got unhealthy: %s", result.Message)
	}
	if checker.Type() != CheckTypeTCP {
		t.Errorf("expected CheckTypeTCP, got %s", checker.Type())
	}
}

func TestTCPCheckerUnhealthyWhenNothingListening(t *testing.T) {
	// Bind and close to obtain a port nothing is listening on anymore.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	checker := NewTCPChecker(addr).WithTimeout(500 * time.Millisecond)
	result := checker.Check(context.Background())

	if result.Healthy {
		t.Error("expected unhealthy result when nothing is listening")
	}
}

func TestNewPeerCheckerFormatsPeerAddress(t *testing.T) {
	addr := types.PeerAddress{IP: "10.0.0.5", Port: 7947}
	checker := NewPeerChecker(addr)

	if checker.Address != "10.0.0.5:7947" {
		t.Errorf("expected address 10.0.0.5:7947, got %s", checker.Address)
	}
}

func TestStatusDebouncesSingleFailure(t *testing.T) {
	status := NewStatus()
	cfg := DefaultConfig()
	cfg.Retries = 2

	status.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	if !status.Healthy {
		t.Error("a single failure must not flip status unhealthy before Retries is reached")
	}

	status.Update(Result{Healthy: false, CheckedAt: time.Now()}, cfg)
	if status.Healthy {
		t.Error("status should be unhealthy once ConsecutiveFailures reaches Retries")
	}

	status.Update(Result{Healthy: true, CheckedAt: time.Now()}, cfg)
	if !status.Healthy {
		t.Error("a single success must immediately clear unhealthy status")
	}
}
