package manager

// Config holds the defaults applied when a workspace carries no
// auto-restore or auto-snapshot attribute and the caller passes none.
type Config struct {
	AutoRestoreDefault  bool `envconfig:"WRT_AUTO_RESTORE_DEFAULT" default:"false"`
	AutoSnapshotDefault bool `envconfig:"WRT_AUTO_SNAPSHOT_DEFAULT" default:"false"`
}
