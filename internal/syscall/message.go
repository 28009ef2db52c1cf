package syscall

import (
	"microkern/internal/defs"
	"microkern/internal/ipc"
	"microkern/internal/util"
)

// messageWireSize is the fixed byte layout a user program's struct
// message must match: sender(4) + receiver(4) + type(4) + len(4) +
// payload(256).
const messageWireSize = 4 + 4 + 4 + 4 + ipc.MaxMsgPayload

func encodeMessage(msg ipc.Message, raw []byte) {
	util.Writen(raw, 4, 0, int(msg.Sender))
	util.Writen(raw, 4, 4, int(msg.Receiver))
	util.Writen(raw, 4, 8, int(msg.Type))
	util.Writen(raw, 4, 12, int(msg.Len))
	copy(raw[16:], msg.Payload[:])
}

func decodeMessage(raw []byte, msg *ipc.Message) {
	msg.Sender = defs.Pid_t(util.Readn(raw, 4, 0))
	msg.Receiver = defs.Pid_t(util.Readn(raw, 4, 4))
	msg.Type = uint32(util.Readn(raw, 4, 8))
	msg.Len = uint32(util.Readn(raw, 4, 12))
	copy(msg.Payload[:], raw[16:])
}
