package protocol

// ProtocolVersion identifies a revision of the table network protocol.
type ProtocolVersion uint32

// CurrentVersion is the newest protocol version this module speaks.
const CurrentVersion ProtocolVersion = 1

// ChooseVersion returns the version to use with a peer that offered the given
// version. The offer is accepted only if it appears in supported.
func ChooseVersion(supported []ProtocolVersion, offered ProtocolVersion) (ProtocolVersion, bool) {
	for _, v := range supported {
		if v == offered {
			return v, true
		}
	}
	return 0, false
}
