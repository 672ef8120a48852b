package mqtt

// Topic tree:
//
//	droidpilot/bot/{bot}/status          retained run status
//	droidpilot/bot/{bot}/stats           per-cycle statistics
//	droidpilot/bot/{bot}/event/{type}    search, crash and command ack events
//	droidpilot/bot/{bot}/command         remote stop/advance/stats commands
//	droidpilot/queue/status              retained queue progress
//	droidpilot/system/{session}/status   retained session presence (will)
const (
	TopicRoot = "droidpilot"

	botRoot    = TopicRoot + "/bot/"
	systemRoot = TopicRoot + "/system/"
)

// Topics builds droidpilot topic names. Publishers and the command
// listener share it so both sides agree on the tree.
type Topics struct{}

// BotStatus returns droidpilot/bot/{bot}/status.
func (Topics) BotStatus(bot string) string { return botRoot + bot + "/status" }

// BotStats returns droidpilot/bot/{bot}/stats.
func (Topics) BotStats(bot string) string { return botRoot + bot + "/stats" }

// BotEvent returns droidpilot/bot/{bot}/event/{kind}.
func (Topics) BotEvent(bot, kind string) string { return botRoot + bot + "/event/" + kind }

// BotCommand returns droidpilot/bot/{bot}/command.
func (Topics) BotCommand(bot string) string { return botRoot + bot + "/command" }

// QueueStatus returns droidpilot/queue/status.
func (Topics) QueueStatus() string { return TopicRoot + "/queue/status" }

// Presence returns droidpilot/system/{session}/status.
func (Topics) Presence(session string) string { return systemRoot + session + "/status" }
