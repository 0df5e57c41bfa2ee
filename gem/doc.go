// Package gem implements the equipment-side protocol engine of the SEMI E30
// GEM (Generic Equipment Model) standard on top of SECS-II messages.
//
// The engine covers message dispatch by stream/function, the establish
// communications handshake state machine, dynamic event report configuration
// and delivery (S2F33/S2F35/S6F11/S6F15), alarm management with reliable
// delivery (S5F1..S5F8), and host remote commands (S2F41).
//
// Byte-level SECS-II encoding and the HSMS transport are not part of this
// package; message bodies are typed secs2.Item trees and delivery goes through
// the Transport interface (see the hsmstransport package for an HSMS-SS
// implementation).
package gem
