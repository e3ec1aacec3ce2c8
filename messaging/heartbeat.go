package messaging

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"fleetbridge/protocol"
)

// Heartbeater sends bridge.register on startup and bridge.heartbeat
// periodically so the platform can mark the robot online. The connection
// status callback lets heartbeats reflect vendor-side health.
type Heartbeater struct {
	platform     *Platform
	robotID      string
	version      string
	vendorFamily string
	interval     time.Duration
	statusFn     func() string
	startTime    time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewHeartbeater(platform *Platform, robotID, version, vendorFamily string, interval time.Duration, statusFn func() string) *Heartbeater {
	return &Heartbeater{
		platform:     platform,
		robotID:      robotID,
		version:      version,
		vendorFamily: vendorFamily,
		interval:     interval,
		statusFn:     statusFn,
		stopCh:       make(chan struct{}),
	}
}

// Start sends the initial registration and begins the heartbeat loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.sendRegister()
	go h.loop()
}

// Stop halts the heartbeat loop.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *Heartbeater) sendRegister() {
	hostname, _ := os.Hostname()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := h.platform.PublishRegister(ctx, protocol.BridgeRegister{
		RobotID:      h.robotID,
		Hostname:     hostname,
		Version:      h.version,
		VendorFamily: h.vendorFamily,
	})
	if err != nil {
		log.Printf("heartbeater: send register: %v", err)
		return
	}
	log.Printf("heartbeater: sent bridge.register (robot=%s)", h.robotID)
}

func (h *Heartbeater) sendHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := h.platform.PublishHeartbeat(ctx, protocol.BridgeHeartbeat{
		RobotID:          h.robotID,
		Uptime:           int64(time.Since(h.startTime).Seconds()),
		ConnectionStatus: h.statusFn(),
	})
	if err != nil {
		log.Printf("heartbeater: send heartbeat: %v", err)
	}
}

func (h *Heartbeater) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}
