// Package wire implements the STPP frame encodings. The protocol runs two
// parallel profiles over one WebSocket connection: text frames carry small
// JSON arrays whose first element is a command number, binary frames are
// byte-packed with little-endian integers and length-prefixed strings.
package wire

import "errors"

// Version is the protocol version advertised in the HELLO exchange.
const Version = 1

// Command numbers. The first binary frame in each direction must be
// CmdHello; the JSON profile has no hello and only accepts the reduced
// subset {CmdSubscribe, CmdUnsubscribe, CmdSet} inbound.
const (
	CmdSubscribe      = 1
	CmdHello          = 2
	CmdUnsubscribe    = 3
	CmdNotify         = 4
	CmdSet            = 5
	CmdEvent          = 6
	CmdReqMove        = 7
	CmdWantMoreChilds = 8
	CmdSelect         = 9
	CmdImageLoad      = 10
	CmdImageReply     = 11
	CmdImageFail      = 12
	CmdImageCancel    = 13
)

// Notification tags carried at byte 1 of a binary NOTIFY frame. TagToggleInt
// is never notified; it only appears as the value tag of an inbound SET.
const (
	TagSetInt            = 1
	TagSetFloat          = 2
	TagSetString         = 3
	TagSetVoid           = 4
	TagSetDir            = 5
	TagAddChilds         = 6
	TagAddChildSelected  = 7
	TagAddChildsBefore   = 8
	TagDelChild          = 9
	TagMoveChild         = 10
	TagSelectChild       = 11
	TagValueProp         = 12
	TagHaveMoreChildsYes = 13
	TagHaveMoreChildsNo  = 14
	TagToggleInt         = 15
)

// JSON notify opcodes. The JSON profile does not wrap notifications in a
// NOTIFY envelope; each change kind is its own top-level array opcode.
// Inbound JSON frames reuse the command numbers above, so the overlap with
// CmdSet etc. is disambiguated by direction.
const (
	JSONNotifySet       = 4 // [4, sub, value]
	JSONNotifyAddChilds = 5 // [5, sub, before, [id, ...]]
	JSONNotifyDelChild  = 6 // [6, sub, [id]]
	JSONNotifyMoveChild = 7 // [7, sub, id, before]
)

// Event type bytes carried in an EVENT frame after the target propref.
const (
	EventActionVector        = 1
	EventOpenURL             = 2
	EventPlayTrack           = 3
	EventDynamicAction       = 4
	EventSelectAudioTrack    = 5
	EventSelectSubtitleTrack = 6
)

// ErrMalformedFrame is returned for any frame that cannot be decoded:
// short header, short length prefix, truncated string or vector, or an
// unknown command. The session closes on it.
var ErrMalformedFrame = errors.New("stpp: malformed frame")
