package chain

import (
	"fmt"
	"strings"
)

// gsReasons maps the Safe contract's revert codes to their meanings, so
// an execution failure surfaces as something actionable instead of a
// bare five-character string.
var gsReasons = map[string]string{
	"GS000": "could not finalize initialization",
	"GS001": "threshold needs to be defined",
	"GS010": "not enough gas to execute safe transaction",
	"GS011": "could not pay gas costs with ether",
	"GS012": "could not pay gas costs with token",
	"GS013": "safe transaction failed when gasPrice and safeTxGas were 0",
	"GS020": "signatures data too short",
	"GS021": "invalid contract signature location: inside static part",
	"GS022": "invalid contract signature location: length not present",
	"GS023": "invalid contract signature location: data not complete",
	"GS024": "invalid contract signature provided",
	"GS025": "hash has not been approved",
	"GS026": "invalid owner provided",
	"GS030": "only owners can approve a hash",
	"GS031": "method can only be called from this contract",
	"GS100": "modules have already been initialized",
	"GS101": "invalid module address provided",
	"GS102": "module has already been added",
	"GS103": "invalid prevModule, module pair provided",
	"GS104": "method can only be called from an enabled module",
	"GS200": "owners have already been setup",
	"GS201": "threshold cannot exceed owner count",
	"GS202": "threshold needs to be greater than 0",
	"GS203": "invalid owner address provided",
	"GS204": "address is already an owner",
	"GS205": "invalid prevOwner, owner pair provided",
	"GS300": "guard does not implement IERC165",
}

// ExecError is a decoded Safe revert.
type ExecError struct {
	Code   string
	Reason string
}

func (e *ExecError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("safe revert %s", e.Code)
	}
	return fmt.Sprintf("safe revert %s: %s", e.Code, e.Reason)
}

// DecodeGSError extracts a GS revert code from an error or revert
// message. Returns nil when the message carries no recognizable code.
func DecodeGSError(msg string) *ExecError {
	idx := strings.Index(msg, "GS")
	if idx < 0 || idx+5 > len(msg) {
		return nil
	}
	code := msg[idx : idx+5]
	reason, ok := gsReasons[code]
	if !ok {
		return nil
	}
	return &ExecError{Code: code, Reason: reason}
}
