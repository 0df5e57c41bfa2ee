package gem

// Acknowledgment code values follow SEMI E5. Only the codes this engine
// produces or inspects are listed.

// COMMACK: S1F14 establish communications acknowledge.
const (
	commAckAccepted = 0
	commAckDenied   = 1
)

// DRACK: S2F34 define report acknowledge.
const (
	drAckOK                = 0
	drAckInsufficientSpace = 1
	drAckInvalidFormat     = 2
	drAckDuplicateRPTID    = 3
	drAckUnknownVID        = 4
)

// LRACK: S2F36 link event report acknowledge.
const (
	lrAckOK                = 0
	lrAckInsufficientSpace = 1
	lrAckInvalidFormat     = 2
	lrAckLinkRejected      = 3
	lrAckUnknownCEID       = 4
	lrAckUnknownRPTID      = 5
)

// ERACK: S2F38 enable/disable event report acknowledge.
const (
	erAckAccepted    = 0
	erAckUnknownCEID = 1
)

// ACKC5: S5F2/S5F4 alarm acknowledge.
const (
	ackc5Accepted    = 0
	ackc5UnknownALID = 1
	ackc5Busy        = 2
)

// ACKC6: S6F12 event report acknowledge.
const (
	ackc6Accepted = 0
)

// ALED: S5F3 enable/disable request flag.
const (
	aledDisable = 0x00
	aledEnable  = 0x80
)

// ALCD bit layout used in S5F1/S5F6/S5F8.
const (
	alcdSetBit = 0x80
)

// OFLACK: S1F16 offline acknowledge.
const (
	oflAckAccepted = 0
)

// ONLACK: S1F18 online acknowledge.
const (
	onlAckAccepted      = 0
	onlAckRefused       = 1
	onlAckAlreadyOnline = 2
)

// HCACK: S2F42 host command acknowledge.
const (
	HCACKAcknowledge            = 0
	HCACKDeniedInvalidCommand   = 1
	HCACKDeniedCannotPerformNow = 2
	HCACKDeniedParamInvalid     = 3
	HCACKAckWillFinishLater     = 4
	HCACKRejectedAlreadyOk      = 5
	HCACKNoSuchObject           = 6
)
