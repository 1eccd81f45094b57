package analyzer

// DefaultGroups returns built-in pattern groups per control-system type.
// Deployments normally configure their own groups; these cover the common
// EPICS client calls so a bare config is still safe.
func DefaultGroups() map[string][]PatternGroup {
	return map[string][]PatternGroup{
		"epics": {
			{
				Category: CategoryWrite,
				Patterns: []string{
					`\bcaput\s*\(`,
					`\bepics\.caput\s*\(`,
					`\.put\s*\(`,
					`\bcaput_many\s*\(`,
					`\bwrite_pv\s*\(`,
				},
			},
			{
				Category: CategoryRead,
				Patterns: []string{
					`\bcaget\s*\(`,
					`\bepics\.caget\s*\(`,
					`\.get\s*\(`,
					`\bcaget_many\s*\(`,
					`\bread_pv\s*\(`,
				},
			},
		},
		"tango": {
			{
				Category: CategoryWrite,
				Patterns: []string{
					`\.write_attribute\s*\(`,
					`\.command_inout\s*\(`,
				},
			},
			{
				Category: CategoryRead,
				Patterns: []string{
					`\.read_attribute\s*\(`,
				},
			},
		},
	}
}
