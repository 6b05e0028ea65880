package config

// mergeConfigs merges override configuration into base. Zero values in
// override leave the base value in place.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.Version != "" {
		result.Version = override.Version
	}
	if override.SourcePath != "" {
		result.SourcePath = override.SourcePath
	}

	result.Store = mergeStore(result.Store, override.Store)
	result.Triangulation = mergeTriangulation(result.Triangulation, override.Triangulation)
	result.Heal = mergeHeal(result.Heal, override.Heal)
	result.Extensions = mergeExtensions(result.Extensions, override.Extensions)

	return &result
}

func mergeStore(base, override StoreConfig) StoreConfig {
	result := base

	if override.Driver != "" {
		result.Driver = override.Driver
	}
	if override.DSN != "" {
		result.DSN = override.DSN
	}
	if override.SessionsTable != "" {
		result.SessionsTable = override.SessionsTable
	}
	if override.WorkItemsTable != "" {
		result.WorkItemsTable = override.WorkItemsTable
	}
	if override.QueryTimeout != 0 {
		result.QueryTimeout = override.QueryTimeout
	}
	if override.MaxRows != 0 {
		result.MaxRows = override.MaxRows
	}
	if override.AutoMigrate != nil {
		result.AutoMigrate = override.AutoMigrate
	}

	return result
}

func mergeTriangulation(base, override TriangulationConfig) TriangulationConfig {
	result := base

	if override.StaleThreshold != 0 {
		result.StaleThreshold = override.StaleThreshold
	}
	if override.WorktreeRoot != "" {
		result.WorktreeRoot = override.WorktreeRoot
	}
	if override.WorkKeyPattern != "" {
		result.WorkKeyPattern = override.WorkKeyPattern
	}
	if override.ChangeWindow != 0 {
		result.ChangeWindow = override.ChangeWindow
	}
	if override.MaxWorktrees != 0 {
		result.MaxWorktrees = override.MaxWorktrees
	}

	return result
}

func mergeHeal(base, override HealConfig) HealConfig {
	result := base

	if override.Budget != 0 {
		result.Budget = override.Budget
	}
	if override.DryRun {
		result.DryRun = override.DryRun
	}
	if override.Hostname != "" {
		result.Hostname = override.Hostname
	}
	if override.HeartbeatInterval != 0 {
		result.HeartbeatInterval = override.HeartbeatInterval
	}

	return result
}

// mergeExtensions merges maps one level deep; other values are replaced.
func mergeExtensions(base, override map[string]interface{}) map[string]interface{} {
	if override == nil {
		return base
	}
	result := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for key, value := range override {
		if baseMap, ok := result[key].(map[string]interface{}); ok {
			if overrideMap, ok := value.(map[string]interface{}); ok {
				merged := make(map[string]interface{}, len(baseMap)+len(overrideMap))
				for k, v := range baseMap {
					merged[k] = v
				}
				for k, v := range overrideMap {
					merged[k] = v
				}
				result[key] = merged
				continue
			}
		}
		result[key] = value
	}
	return result
}
