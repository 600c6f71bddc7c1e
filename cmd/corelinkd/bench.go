package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/corelink/pkg/dispatch"
	"github.com/cuemby/corelink/pkg/executor"
	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/rayletprobe"
	"github.com/cuemby/corelink/pkg/rpcclient"
	"github.com/cuemby/corelink/pkg/rpcpool"
	"github.com/cuemby/corelink/pkg/types"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load-generate RPC dispatch against an in-process peer, demonstrating bounded backpressure",
	Long: `bench starts a single in-process peer (a rayletprobe.Server answering
gRPC health checks) and fires --calls RPCs at it through a real
rpcpool.Pool and executor.BoundedExecutor, printing how long the run
took, how many calls failed, and the pool's final size. Raising --calls well past
--width should show the run's wall time scale roughly linearly, since
Post never lets more than --width calls run at once.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Uint("width", 8, "Bounded executor width (max concurrent dispatch)")
	benchCmd.Flags().Int("calls", 200, "Total number of RPCs to dispatch")
}

func runBench(cmd *cobra.Command, args []string) error {
	width, _ := cmd.Flags().GetUint("width")
	calls, _ := cmd.Flags().GetInt("calls")

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("bench: listen: %w", err)
	}
	peerWorkerID := types.NewWorkerID()
	rayletSrv := rayletprobe.NewServer()
	rayletSrv.SetWorkerAlive(peerWorkerID)
	go func() { _ = rayletSrv.Serve(lis) }()
	defer rayletSrv.Stop()

	host, portStr, err := net.SplitHostPort(lis.Addr().String())
	if err != nil {
		return fmt.Errorf("bench: split peer address: %w", err)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("bench: parse peer port: %w", err)
	}
	addr := types.PeerAddress{WorkerID: peerWorkerID, IP: host, Port: port}

	pool := rpcpool.New(rpcclient.NewFactory(rpcclient.InsecureDialOption()))
	exec := executor.NewBoundedExecutor(width)
	disp := dispatch.New(pool, exec, nil, nil)

	fmt.Printf("dispatching %d calls through an executor of width %d...\n", calls, width)
	start := time.Now()

	var wg sync.WaitGroup
	var failures int
	var mu sync.Mutex
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := disp.Call(ctx, addr); err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	exec.Stop()
	exec.Join()

	fmt.Printf("done in %s (%d failures)\n", elapsed, failures)
	fmt.Printf("final pool size: %d\n", pool.Size())
	return nil
}
