// Package event defines the typed UI events a remote client can dispatch
// at a property, and the action-name table used to translate wire action
// vectors into codes.
package event

import "github.com/mediatree/stpp/prop"

// ActionCode identifies one navigation or playback action.
type ActionCode int

const (
	ActionNone ActionCode = iota
	ActionUp
	ActionDown
	ActionLeft
	ActionRight
	ActionActivate
	ActionEnter
	ActionBack
	ActionCancel
	ActionItemMenu
	ActionHome
	ActionPlayPause
	ActionPlay
	ActionPause
	ActionStop
	ActionEject
	ActionSkipForward
	ActionSkipBackward
	ActionSeekForward
	ActionSeekBackward
	ActionVolumeUp
	ActionVolumeDown
	ActionVolumeMuteToggle
	ActionPageUp
	ActionPageDown
	ActionTop
	ActionBottom
	ActionIncr
	ActionDecr
	ActionShuffle
	ActionRepeat
	ActionNextChannel
	ActionPrevChannel
	ActionFullscreenToggle
)

var actionNames = map[string]ActionCode{
	"Up":               ActionUp,
	"Down":             ActionDown,
	"Left":             ActionLeft,
	"Right":            ActionRight,
	"Activate":         ActionActivate,
	"Enter":            ActionEnter,
	"Back":             ActionBack,
	"Cancel":           ActionCancel,
	"ItemMenu":         ActionItemMenu,
	"Home":             ActionHome,
	"PlayPause":        ActionPlayPause,
	"Play":             ActionPlay,
	"Pause":            ActionPause,
	"Stop":             ActionStop,
	"Eject":            ActionEject,
	"SkipNext":         ActionSkipForward,
	"SkipPrev":         ActionSkipBackward,
	"SeekForward":      ActionSeekForward,
	"SeekReverse":      ActionSeekBackward,
	"VolumeUp":         ActionVolumeUp,
	"VolumeDown":       ActionVolumeDown,
	"VolumeMuteToggle": ActionVolumeMuteToggle,
	"PageUp":           ActionPageUp,
	"PageDown":         ActionPageDown,
	"Top":              ActionTop,
	"Bottom":           ActionBottom,
	"Increase":         ActionIncr,
	"Decrease":         ActionDecr,
	"Shuffle":          ActionShuffle,
	"Repeat":           ActionRepeat,
	"NextChannel":      ActionNextChannel,
	"PrevChannel":      ActionPrevChannel,
	"FullscreenToggle": ActionFullscreenToggle,
}

// ActionFromString maps a wire action name to its code. Unknown names map
// to ActionNone so one bad element does not sink the vector.
func ActionFromString(name string) ActionCode {
	return actionNames[name]
}

// ActionMulti is a vector of action codes dispatched together, usually a
// key press with fallbacks.
type ActionMulti struct {
	Actions []ActionCode
}

// DynamicAction is an action identified by name only, for actions minted
// at runtime by the UI model.
type DynamicAction struct {
	Name string
}

// OpenURL asks the backend to open a url, optionally into a given view,
// with item/parent model context.
type OpenURL struct {
	URL         string
	View        string
	How         string
	ParentURL   string
	ItemModel   *prop.Prop
	ParentModel *prop.Prop
}

// PlayTrack starts playback of a track property, with an optional source
// model (the surrounding list) and a playback mode byte.
type PlayTrack struct {
	Track       *prop.Prop
	SourceModel *prop.Prop
	Mode        byte
}

// TrackKind selects which stream a SelectTrack event addresses.
type TrackKind int

const (
	AudioTrack TrackKind = iota
	SubtitleTrack
)

// SelectTrack switches the active audio or subtitle track. Manual marks a
// user-initiated switch as opposed to an automatic one.
type SelectTrack struct {
	Kind   TrackKind
	ID     string
	Manual bool
}
