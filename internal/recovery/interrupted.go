package recovery

import (
	"fmt"
	"log"
	"syscall"

	"github.com/foremanhq/foreman/pkg/models"
)

// OrphanedInstance describes a runtime instance recorded as running whose
// process no longer exists, detected on startup.
type OrphanedInstance struct {
	Instance models.RuntimeInstance
}

// CheckForOrphans scans the store for instances recorded as running whose
// pid is dead. These are runs interrupted by a crash of the previous
// orchestrator process.
func (m *Manager) CheckForOrphans() ([]OrphanedInstance, error) {
	if m.store == nil {
		return nil, nil
	}

	running, err := m.store.ListInstancesByStatus(models.InstanceStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running instances: %w", err)
	}

	var orphans []OrphanedInstance
	for _, inst := range running {
		if inst.PID > 0 && !isProcessAlive(inst.PID) {
			orphans = append(orphans, OrphanedInstance{Instance: inst})
		}
	}
	return orphans, nil
}

// ResetOrphans marks every orphaned instance as interrupted in the store so
// it is no longer counted against any quota.
func (m *Manager) ResetOrphans(orphans []OrphanedInstance) error {
	for _, o := range orphans {
		inst := o.Instance
		inst.Status = models.InstanceStatusInterrupted
		inst.FinalStatus = models.InstanceStatusInterrupted
		inst.ErrorReason = "process died while orchestrator was down"
		if err := m.store.SaveInstance(&inst); err != nil {
			return fmt.Errorf("reset instance %s: %w", inst.InstanceID, err)
		}
		log.Printf("Reset orphaned instance %s (pid %d)", inst.InstanceID, inst.PID)
	}
	return nil
}

// isProcessAlive checks whether a process with the given pid exists.
// Signal 0 performs the existence check without delivering anything.
func isProcessAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
