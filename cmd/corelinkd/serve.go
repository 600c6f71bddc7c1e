package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/corelink/pkg/dispatch"
	"github.com/cuemby/corelink/pkg/events"
	"github.com/cuemby/corelink/pkg/executor"
	"github.com/cuemby/corelink/pkg/health"
	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/membership"
	"github.com/cuemby/corelink/pkg/metrics"
	"github.com/cuemby/corelink/pkg/rayletprobe"
	"github.com/cuemby/corelink/pkg/rpcclient"
	"github.com/cuemby/corelink/pkg/rpcpool"
	"github.com/cuemby/corelink/pkg/runtimeenv"
	"github.com/cuemby/corelink/pkg/security"
	"github.com/cuemby/corelink/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a corelink node: membership registry, raylet liveness responder, and dispatch",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "node-1", "Unique node ID for the membership Raft group")
	serveCmd.Flags().String("raft-addr", "127.0.0.1:7946", "Address for Raft communication")
	serveCmd.Flags().String("rpc-addr", "127.0.0.1:7947", "Address this node answers peer RPCs and liveness probes on")
	serveCmd.Flags().String("http-addr", "127.0.0.1:8080", "Address for /metrics, /health, /ready, /join-token")
	serveCmd.Flags().String("data-dir", "./corelinkd-data", "Data directory for membership state")
	serveCmd.Flags().String("join-addr", "", "Non-empty: start Raft without bootstrapping and wait for the leader to AddVoter this node (the address is not dialed); empty bootstraps a new registry")
	serveCmd.Flags().Int("executor-width", 8, "Maximum concurrently-dispatched RPCs")
	serveCmd.Flags().Bool("insecure", true, "Skip mTLS and use plaintext gRPC (development only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	raftAddr, _ := cmd.Flags().GetString("raft-addr")
	rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	joinAddr, _ := cmd.Flags().GetString("join-addr")
	executorWidth, _ := cmd.Flags().GetInt("executor-width")
	insecureMode, _ := cmd.Flags().GetBool("insecure")

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false})
	metrics.SetVersion(Version)

	registry, err := membership.NewRegistry(&membership.Config{
		NodeID:   nodeID,
		BindAddr: raftAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("serve: create membership registry: %w", err)
	}

	if joinAddr == "" {
		if err := registry.Bootstrap(); err != nil {
			return fmt.Errorf("serve: bootstrap registry: %w", err)
		}
	} else {
		if err := registry.Join(); err != nil {
			return fmt.Errorf("serve: join registry: %w", err)
		}
	}
	metrics.RegisterComponent("raft", true, "membership registry started")
	registry.StartMetricsCollection(5 * time.Second)

	// A live subscription is what turns on the liveness-timeout callback
	// (spec.md §7 MembershipSubscriptionMissing); this daemon always
	// keeps one open, just to log node-change events.
	sub := registry.Subscribe()
	go logMembershipEvents(sub)
	defer registry.Unsubscribe(sub)

	selfWorkerID := types.NewWorkerID()
	rayletSrv := rayletprobe.NewServer()
	rayletSrv.SetWorkerAlive(selfWorkerID)

	lis, err := net.Listen("tcp", rpcAddr)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", rpcAddr, err)
	}
	go func() {
		if err := rayletSrv.Serve(lis); err != nil {
			log.Logger.Error().Err(err).Msg("serve: rpc listener stopped")
		}
	}()
	log.Logger.Info().
		Str("node_id", nodeID).
		Str("rpc_addr", rpcAddr).
		Str("worker_id", selfWorkerID.String()).
		Msg("serve: rpc/liveness listener started")

	selfHost, selfPortStr, err := net.SplitHostPort(rpcAddr)
	if err != nil {
		return fmt.Errorf("serve: parse rpc-addr: %w", err)
	}
	var selfPort uint16
	if _, err := fmt.Sscanf(selfPortStr, "%d", &selfPort); err != nil {
		return fmt.Errorf("serve: parse rpc-addr port: %w", err)
	}
	selfAddr := types.PeerAddress{WorkerID: selfWorkerID, IP: selfHost, Port: selfPort}

	rpcListenerCheck := health.NewPeerChecker(selfAddr).WithTimeout(2 * time.Second)
	stopHealthLoop := make(chan struct{})
	go runRPCListenerHealthLoop(rpcListenerCheck, stopHealthLoop)
	defer close(stopHealthLoop)

	var dialOpts []grpc.DialOption
	if insecureMode {
		dialOpts = append(dialOpts, rpcclient.InsecureDialOption())
	} else {
		certDir, err := security.GetCertDir(nodeID)
		if err != nil {
			return fmt.Errorf("serve: cert dir: %w", err)
		}
		opt, err := rpcclient.MTLSDialOption(certDir)
		if err != nil {
			return fmt.Errorf("serve: mtls dial option: %w", err)
		}
		dialOpts = append(dialOpts, opt)
	}

	pool := rpcpool.New(rpcclient.NewFactory(dialOpts...))
	exec := executor.NewBoundedExecutor(uint(executorWidth))
	rayletFactory := rayletprobe.NewClientFactory(dialOpts...)
	disp := dispatch.New(pool, exec, registry, rayletFactory)
	metrics.RegisterComponent("rpcpool", true, "client pool constructed")
	metrics.RegisterComponent("executor", true, "bounded executor constructed")

	selfNodeID := types.NewNodeID()
	if err := registry.PutNode(types.NodeInfo{
		NodeID:          selfNodeID,
		NodeManagerAddr: selfAddr.IP,
		NodeManagerPort: selfAddr.Port,
		Status:          types.NodeStatusAlive,
	}); err != nil {
		return fmt.Errorf("serve: register self in membership: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())
	mux.HandleFunc("/join-token", joinTokenHandler(registry))
	mux.HandleFunc("/dispatch", dispatchHandler(disp))

	httpSrv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		log.Logger.Info().Str("http_addr", httpAddr).Msg("serve: http endpoint started")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("serve: http server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("serve: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	rayletSrv.Stop()
	exec.Stop()
	exec.Join()
	return registry.Shutdown()
}

// runRPCListenerHealthLoop feeds the rpc-addr listener's own reachability
// into the "rpc_listener" component that /health reports, so a node that
// can't accept peer RPCs reports unhealthy even though its HTTP admin
// surface is still up. /ready does not consult this component.
// A single dropped check doesn't flip the status: health.Status debounces
// against health.Config.Retries, and a fresh listener gets StartPeriod
// to come up before a miss counts against it.
func runRPCListenerHealthLoop(checker *health.TCPChecker, stop <-chan struct{}) {
	cfg := health.DefaultConfig()
	cfg.Retries = 2
	cfg.StartPeriod = 3 * time.Second
	status := health.NewStatus()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		result := checker.Check(context.Background())
		if !status.InStartPeriod(cfg) {
			status.Update(result, cfg)
			metrics.RegisterComponent("rpc_listener", status.Healthy, result.Message)
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func logMembershipEvents(sub events.Subscriber) {
	for evt := range sub {
		log.Logger.Info().
			Str("event_type", string(evt.Type)).
			Str("node_id", evt.NodeID.String()).
			Msg("serve: membership event")
	}
}

// dispatchHandler exercises the full request path — pool + executor +
// membership + raylet probe — against a peer named by query parameters,
// so this daemon is drivable end-to-end without a second binary.
func dispatchHandler(disp *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		worker, err := hexWorkerID(q.Get("worker_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var port uint16
		if _, err := fmt.Sscanf(q.Get("port"), "%d", &port); err != nil {
			http.Error(w, "invalid port", http.StatusBadRequest)
			return
		}

		addr := types.PeerAddress{WorkerID: worker, IP: q.Get("ip"), Port: port}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		requestID := uuid.NewString()

		// The pool/executor path only moves bytes; a real caller decides
		// what payload rides over it. A runtime-env request is a typical
		// such payload (spec.md §6), logged here to show the shape a
		// caller would serialize and hand to the transport.
		if env := q.Get("runtime_env"); env != "" {
			payload := runtimeenv.GetOrCreateRequest{
				SerializedRuntimeEnv: env,
				SourceProcess:        requestID,
			}
			log.Logger.Debug().
				Str("request_id", requestID).
				Interface("runtime_env_request", payload).
				Msg("serve: attaching runtime-env payload to dispatch")
		}

		log.Logger.Info().Str("request_id", requestID).Str("peer", addr.String()).Msg("serve: dispatching RPC")

		if err := disp.Call(ctx, addr); err != nil {
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"request_id": requestID, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": requestID, "status": "ok"})
	}
}

func hexWorkerID(s string) (types.WorkerID, error) {
	var id types.WorkerID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid worker_id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid worker_id: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func joinTokenHandler(registry *membership.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := registry.GenerateJoinToken()
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token, "request_id": uuid.NewString()})
	}
}

