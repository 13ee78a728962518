package protocol

// Directory and file names used throughout argent.
const (
	// HomeDir is the user-level state directory (e.g., ~/.argent).
	HomeDir = ".argent"

	// DBFile is the SQLite database file inside HomeDir.
	DBFile = "argent.db"

	// CatalogFile is the optional story catalog inside HomeDir.
	CatalogFile = "story.yaml"

	// ConfigFile is the optional TOML config inside HomeDir.
	ConfigFile = "argent.toml"
)

// Mode is a player's communication mode.
type Mode string

const (
	// ModeImmersive delivers story beats over real channels at human pace.
	ModeImmersive Mode = "immersive"
	// ModeWebOnly delivers everything into the internal inbox immediately.
	ModeWebOnly Mode = "web_only"
)

// ParseMode maps a stored mode onto a known Mode. Unknown values are web-only.
func ParseMode(s string) Mode {
	if Mode(s) == ModeImmersive {
		return ModeImmersive
	}
	return ModeWebOnly
}

// Channel names an outbound delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelWeb   Channel = "web"
)

// Direction of a stored message relative to the player.
type Direction string

const (
	// Inbound is player to persona.
	Inbound Direction = "inbound"
	// Outbound is persona to player.
	Outbound Direction = "outbound"
)

// Transcript roles.
const (
	RolePlayer = "player"
	RoleAgent  = "agent"
)

// Trust and extraction bounds.
const (
	TrustMin = -100
	TrustMax = 100

	ExtractionDeltaMin = -20
	ExtractionDeltaMax = 20
)

// Event log types.
const (
	EventStoryScheduled = "story.scheduled"
	EventStoryFired     = "story.fired"
	EventJobEnqueued    = "job.enqueued"
	EventJobDone        = "job.done"
	EventJobFailed      = "job.failed"
	EventPipelineReply  = "pipeline.reply"
	EventPipelineFailed = "pipeline.failed"
	EventTrustUpdated   = "trust.updated"
)
