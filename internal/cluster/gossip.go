package cluster

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/treestore-io/treestore/internal/journal"
	"github.com/treestore-io/treestore/internal/metrics"
)

// NodeStatus is the advertised revision state of a cluster node.
type NodeStatus struct {
	NodeID        string `json:"node_id"`
	LocalRevision uint64 `json:"local_revision"`
	Synced        bool   `json:"synced"`
	Timestamp     int64  `json:"timestamp"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// GossipService manages cluster membership and propagates each node's
// journal position. When a peer advertises a revision ahead of ours the
// sync service is kicked so the gap closes without waiting for the next
// periodic pass.
type GossipService struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	nodeID     string
	syncSvc    *journal.SyncService
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu     sync.Mutex
	status NodeStatus
}

// NewGossipService creates a new gossip service
func NewGossipService(cfg *GossipConfig, nodeID string, syncSvc *journal.SyncService, m *metrics.Metrics, logger *zap.Logger) (*GossipService, error) {
	gs := &GossipService{
		config:  cfg,
		nodeID:  nodeID,
		syncSvc: syncSvc,
		metrics: m,
		logger:  logger,
		status: NodeStatus{
			NodeID:    nodeID,
			Timestamp: time.Now().Unix(),
		},
	}

	// Configure memberlist
	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = nodeID
	mlConfig.BindPort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = gs
	mlConfig.Events = &GossipEventDelegate{service: gs}

	// Create memberlist
	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}

	gs.memberlist = ml

	// Join seed nodes
	if len(cfg.SeedNodes) > 0 {
		_, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	gs.updateMemberCount()

	return gs, nil
}

// UpdateStatus refreshes the locally advertised revision position.
func (s *GossipService) UpdateStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncSvc != nil {
		s.status.LocalRevision = s.syncSvc.LocalRevision()
		s.status.Synced = !s.syncSvc.Unsynchronized()
	}
	s.status.Timestamp = time.Now().Unix()
}

// Members returns the names of all live cluster members.
func (s *GossipService) Members() []string {
	nodes := s.memberlist.Members()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return names
}

// NodeMeta implements memberlist.Delegate
func (s *GossipService) NodeMeta(limit int) []byte {
	s.mu.Lock()
	data, _ := json.Marshal(s.status)
	s.mu.Unlock()
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipService) NotifyMsg(data []byte) {
	s.handleRemoteStatus(data)
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipService) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipService) LocalState(join bool) []byte {
	s.UpdateStatus()
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(s.status)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipService) MergeRemoteState(buf []byte, join bool) {
	s.handleRemoteStatus(buf)
}

func (s *GossipService) handleRemoteStatus(data []byte) {
	var status NodeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}
	if status.NodeID == s.nodeID {
		return
	}

	s.logger.Debug("Received node status",
		zap.String("node_id", status.NodeID),
		zap.Uint64("local_revision", status.LocalRevision))

	if s.syncSvc != nil && status.LocalRevision > s.syncSvc.LocalRevision() {
		s.syncSvc.Kick()
	}
}

func (s *GossipService) updateMemberCount() {
	if s.metrics != nil {
		s.metrics.GossipMembersTotal.Set(float64(s.memberlist.NumMembers()))
	}
}

// Leave broadcasts a graceful leave before shutdown.
func (s *GossipService) Leave(timeout time.Duration) error {
	return s.memberlist.Leave(timeout)
}

// Shutdown shuts down the gossip service
func (s *GossipService) Shutdown() error {
	return s.memberlist.Shutdown()
}

// GossipEventDelegate handles memberlist events
type GossipEventDelegate struct {
	service *GossipService
}

// NotifyJoin is called when a node joins
func (d *GossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node_id", node.Name),
		zap.String("addr", node.Addr.String()))
	d.service.updateMemberCount()
	if len(node.Meta) > 0 {
		d.service.handleRemoteStatus(node.Meta)
	}
}

// NotifyLeave is called when a node leaves
func (d *GossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node_id", node.Name))
	d.service.updateMemberCount()
}

// NotifyUpdate is called when a node is updated
func (d *GossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node_id", node.Name))
	if len(node.Meta) > 0 {
		d.service.handleRemoteStatus(node.Meta)
	}
}
