package workflow

// ConfigureStages registers the concrete stage handlers the workflow will run.
func (m *Manager) ConfigureStages(set StageSet) {
	var stages []pipelineStage
	if set.Download != nil {
		stages = append(stages, pipelineStage{
			name:    set.Download.Name(),
			handler: set.Download,
			limit:   m.cfg.Download.BatchLimit,
		})
	}
	if set.Process != nil {
		stages = append(stages, pipelineStage{
			name:    set.Process.Name(),
			handler: set.Process,
			limit:   m.cfg.SnowMask.BatchLimit,
		})
	}

	m.mu.Lock()
	m.discoverer = set.Discovery
	m.stages = stages
	m.mu.Unlock()
}
