package decode

// ExtractPGN derives the Parameter Group Number from a 29-bit CAN
// arbitration id, following the RV-C/J1939 identifier layout:
//
//	bits 26-28: priority (ignored for PGN purposes)
//	bit  25:    reserved
//	bit  24:    data page
//	bits 16-23: PDU format (PF)
//	bits  8-15: PDU specific (PS)
//	bits  0-7:  source address
//
// When PF < 240 the message is PDU1 (peer-addressed): PS carries the
// destination address and is not part of the PGN. When PF >= 240 the
// message is PDU2 (broadcast): PS is folded into the PGN.
func ExtractPGN(arbitrationID uint32) uint32 {
	dataPage := (arbitrationID >> 24) & 0x1
	reserved := (arbitrationID >> 25) & 0x1
	pf := (arbitrationID >> 16) & 0xFF
	ps := (arbitrationID >> 8) & 0xFF

	pgn := (reserved << 17) | (dataPage << 16) | (pf << 8)
	if pf >= 240 {
		pgn |= ps
	}
	return pgn
}

// ExtractSourceAddress returns the low 8 bits of the arbitration id.
func ExtractSourceAddress(arbitrationID uint32) uint8 {
	return uint8(arbitrationID & 0xFF)
}

// ExtractPriority returns the 3-bit priority field.
func ExtractPriority(arbitrationID uint32) uint8 {
	return uint8((arbitrationID >> 26) & 0x7)
}

// ExtractDestinationAddress returns the PDU-specific byte, meaningful only
// for PDU1 (peer-addressed, PF < 240) messages.
func ExtractDestinationAddress(arbitrationID uint32) uint8 {
	return uint8((arbitrationID >> 8) & 0xFF)
}
