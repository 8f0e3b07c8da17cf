// internal/blockchain/solbc/error_analyzer.go
package solbc

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"
)

// errorFields extracts the JSON-RPC code, message and any program logs from
// err so they can be attached to a log entry.
func errorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}

	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return fields
	}
	fields = append(fields,
		zap.Int("rpc_code", rpcErr.Code),
		zap.String("rpc_message", rpcErr.Message))

	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return fields
	}
	if logs, ok := data["logs"].([]interface{}); ok && len(logs) > 0 {
		lines := make([]string, 0, len(logs))
		for _, entry := range logs {
			lines = append(lines, fmt.Sprint(entry))
		}
		fields = append(fields, zap.Strings("program_logs", lines))
	}
	if instrErr, ok := data["err"]; ok && instrErr != nil {
		fields = append(fields, zap.Any("instruction_error", instrErr))
	}
	return fields
}
