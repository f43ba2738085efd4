package obs

// Build metadata, set with -ldflags "-X studiodesk.app/internal/obs.Version=...".
var (
	Version = "dev"
	Commit  = "none"
)

// SetBuildInfo publishes build_info{version,commit} 1.
func (m *Metrics) SetBuildInfo(version, commit string) {
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}
