package workflow

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"blockforge/internal/models"
	"blockforge/internal/sandbox"
)

// DefaultMaxParallel bounds how many nodes run concurrently.
const DefaultMaxParallel = 8

// DefaultRunTimeout is the wall-clock budget for a whole workflow run.
const DefaultRunTimeout = 10 * time.Minute

// RunStatus summarizes a finished run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Result is the outcome of one workflow run: a per-node record and the
// outputs of the terminal nodes.
type Result struct {
	Status      RunStatus
	NodeResults map[string]models.NodeResult
	Outputs     map[string]map[string]any
	Error       string
}

// Engine executes workflows over a sandbox. Independent nodes run
// concurrently up to maxParallel; a failed node skips its downstream
// subgraph while unrelated branches keep going.
type Engine struct {
	sandbox     *sandbox.Sandbox
	registry    BlockGetter
	maxParallel int
	timeout     time.Duration
}

// NewEngine creates an engine. maxParallel <= 0 and timeout <= 0 select
// defaults.
func NewEngine(sb *sandbox.Sandbox, registry BlockGetter, maxParallel int, timeout time.Duration) *Engine {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Engine{sandbox: sb, registry: registry, maxParallel: maxParallel, timeout: timeout}
}

// trySend attempts a non-blocking send on the updates channel. If the
// buffer is full the update is dropped rather than stalling execution.
func trySend(updates chan<- models.NodeUpdate, update models.NodeUpdate) {
	if updates == nil {
		return
	}
	select {
	case updates <- update:
	default:
		log.Printf("⚠️ [ENGINE] Updates channel full, dropping update for node %s", update.NodeID)
	}
}

// Run executes the workflow. runInputs supplies values for input fields
// not covered by bindings, keyed by node ID. Node status updates stream to
// the optional updates channel.
func (e *Engine) Run(ctx context.Context, wf *models.Workflow, runInputs map[string]map[string]any, updates chan<- models.NodeUpdate) (*Result, error) {
	log.Printf("🚀 [ENGINE] Starting workflow %q with %d nodes", wf.Name, len(wf.Nodes))

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// Resolve every node's block up front so a missing block fails the
	// run before anything executes.
	blocks := make(map[string]*models.Block, len(wf.Nodes))
	for _, node := range wf.Nodes {
		block, err := e.registry.GetBlock(ctx, node.BlockID)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}
		blocks[node.ID] = block
	}

	// Dependency graph from bindings, deduplicated to node-level edges.
	dependencies := make(map[string]map[string]bool, len(wf.Nodes))
	dependents := make(map[string]map[string]bool, len(wf.Nodes))
	for _, node := range wf.Nodes {
		dependencies[node.ID] = make(map[string]bool)
		dependents[node.ID] = make(map[string]bool)
	}
	for _, b := range wf.Bindings {
		if _, ok := dependencies[b.TargetNode]; !ok {
			return nil, fmt.Errorf("binding references unknown node %s", b.TargetNode)
		}
		if _, ok := dependencies[b.SourceNode]; !ok {
			return nil, fmt.Errorf("binding references unknown node %s", b.SourceNode)
		}
		dependencies[b.TargetNode][b.SourceNode] = true
		dependents[b.SourceNode][b.TargetNode] = true
	}

	hasStart := false
	for _, node := range wf.Nodes {
		if len(dependencies[node.ID]) == 0 {
			hasStart = true
			break
		}
	}
	if !hasStart {
		return nil, fmt.Errorf("workflow has no start nodes (circular dependency?)")
	}

	// Shared run state, guarded by mu. cond is signaled whenever a node
	// reaches a terminal state, replacing polling loops.
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	statuses := make(map[string]models.NodeStatus, len(wf.Nodes))
	resultsByNode := make(map[string]models.NodeResult, len(wf.Nodes))
	outputs := make(map[string]map[string]any)
	for _, node := range wf.Nodes {
		statuses[node.ID] = models.NodeStatusPending
	}

	nodeSemaphore := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup

	finish := func(nodeID string, status models.NodeStatus, output map[string]any, errMsg string, startedAt *time.Time) {
		now := time.Now().UTC()
		statuses[nodeID] = status
		resultsByNode[nodeID] = models.NodeResult{
			Status:      status,
			Output:      output,
			Error:       errMsg,
			StartedAt:   startedAt,
			CompletedAt: &now,
		}
		if output != nil {
			outputs[nodeID] = output
		}
		cond.Broadcast()
		trySend(updates, models.NodeUpdate{NodeID: nodeID, Status: status, Error: errMsg})
	}

	runNode := func(nodeID string) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("🔥 [ENGINE] Panic in node %s: %v\n%s", nodeID, r, debug.Stack())
				mu.Lock()
				finish(nodeID, models.NodeStatusFailed, nil, fmt.Sprintf("panic: %v", r), nil)
				mu.Unlock()
			}
		}()

		nodeSemaphore <- struct{}{}
		defer func() { <-nodeSemaphore }()

		startedAt := time.Now().UTC()

		// Assemble inputs: run-provided values first, then bound upstream
		// outputs (bindings win over run inputs for the same field).
		inputs := make(map[string]any)
		for k, v := range runInputs[nodeID] {
			inputs[k] = v
		}
		mu.Lock()
		for _, b := range wf.Bindings {
			if b.TargetNode != nodeID {
				continue
			}
			if srcOutput, ok := outputs[b.SourceNode]; ok {
				inputs[b.TargetField] = srcOutput[b.SourceField]
			}
		}
		mu.Unlock()

		log.Printf("▶️ [ENGINE] Executing node %s (block %s)", nodeID, blocks[nodeID].ID)
		output, err := e.sandbox.Execute(ctx, blocks[nodeID], inputs)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				finish(nodeID, models.NodeStatusCancelled, nil, err.Error(), &startedAt)
			} else {
				log.Printf("❌ [ENGINE] Node %s failed: %v", nodeID, err)
				finish(nodeID, models.NodeStatusFailed, nil, err.Error(), &startedAt)
			}
			return
		}
		finish(nodeID, models.NodeStatusCompleted, output, "", &startedAt)
	}

	terminalCount := func() int {
		n := 0
		for _, s := range statuses {
			if s == models.NodeStatusCompleted || s == models.NodeStatusFailed ||
				s == models.NodeStatusSkipped || s == models.NodeStatusCancelled {
				n++
			}
		}
		return n
	}

	// Scheduler: dispatch nodes whose dependencies completed, skip nodes
	// whose dependencies ended badly. Insertion order breaks ties so runs
	// are reproducible.
	mu.Lock()
	for terminalCount() < len(wf.Nodes) {
		if ctx.Err() != nil {
			for _, node := range wf.Nodes {
				if statuses[node.ID] == models.NodeStatusPending {
					finish(node.ID, models.NodeStatusCancelled, nil, "run cancelled", nil)
				}
			}
			break
		}

		progressed := false
		running := 0
		for _, node := range wf.Nodes {
			switch statuses[node.ID] {
			case models.NodeStatusRunning:
				running++
				continue
			case models.NodeStatusPending:
			default:
				continue
			}

			ready := true
			blocked := false
			for dep := range dependencies[node.ID] {
				switch statuses[dep] {
				case models.NodeStatusCompleted:
				case models.NodeStatusFailed, models.NodeStatusSkipped, models.NodeStatusCancelled:
					blocked = true
				default:
					ready = false
				}
			}

			if blocked {
				log.Printf("⏭️ [ENGINE] Skipping node %s: upstream did not complete", node.ID)
				finish(node.ID, models.NodeStatusSkipped, nil, "upstream node did not complete", nil)
				progressed = true
				continue
			}
			if !ready {
				continue
			}

			statuses[node.ID] = models.NodeStatusRunning
			trySend(updates, models.NodeUpdate{NodeID: node.ID, Status: models.NodeStatusRunning})
			wg.Add(1)
			go runNode(node.ID)
			progressed = true
		}

		if progressed {
			continue
		}
		if running == 0 && terminalCount() < len(wf.Nodes) {
			// Nothing running and nothing dispatchable: the graph is
			// wedged, which a DAG cannot be. Bail instead of hanging.
			mu.Unlock()
			wg.Wait()
			return nil, fmt.Errorf("workflow scheduling deadlock")
		}
		cond.Wait()
	}
	mu.Unlock()

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	var completedCount, failedCount int
	for _, result := range resultsByNode {
		switch result.Status {
		case models.NodeStatusCompleted:
			completedCount++
		case models.NodeStatusFailed, models.NodeStatusCancelled:
			failedCount++
		}
	}

	status := RunCompleted
	if failedCount > 0 || completedCount < len(wf.Nodes) {
		if completedCount > 0 {
			status = RunPartial
		} else {
			status = RunFailed
		}
	}

	// Final outputs come from completed terminal nodes.
	finalOutputs := make(map[string]map[string]any)
	for _, node := range wf.Nodes {
		if len(dependents[node.ID]) != 0 {
			continue
		}
		if output, ok := outputs[node.ID]; ok {
			finalOutputs[node.ID] = output
		}
	}

	var errMsg string
	if failedCount > 0 {
		errMsg = fmt.Sprintf("%d node(s) did not complete", len(wf.Nodes)-completedCount)
	}

	log.Printf("🏁 [ENGINE] Workflow %q %s: %d completed, %d failed", wf.Name, status, completedCount, failedCount)

	return &Result{
		Status:      status,
		NodeResults: resultsByNode,
		Outputs:     finalOutputs,
		Error:       errMsg,
	}, nil
}
