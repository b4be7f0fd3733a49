package protocol

// Class and instruction bytes of the supported terminal command subset.
const (
	ClassPayment byte = 0x06
	ClassStatus  byte = 0x04
	ClassAck     byte = 0x80

	InsAuthorization byte = 0x01 // client -> terminal
	InsAbort         byte = 0x02 // client -> terminal
	InsDiagnosis     byte = 0x70 // client -> terminal
	InsStatusInfo    byte = 0x0F // terminal -> client (class 0x04)
	InsReceiptLine   byte = 0xD1 // terminal -> client
	InsReceiptBlock  byte = 0xD3 // terminal -> client
	InsCompletion    byte = 0x0F // terminal -> client (class 0x06)
	InsAck           byte = 0x00
)
