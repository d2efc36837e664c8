package gateway

import "fmt"

// OperationKind enumerates the operations the gateway can perform.
// OperationKindはゲートウェイが実行できる操作を列挙します。
type OperationKind int

const (
	OpExecuteCommand OperationKind = iota + 1
	OpReadFile
	OpWriteFile
	OpListDirectory
	OpGetSystemInfo
	OpCreateFile
	OpCreateDirectory
	OpDeleteFile
	OpDeleteDirectory
	OpCopyFile
	OpMoveFile
	OpGetFileInfo
	OpChangePermissions
	OpSearchFiles
	OpCompressFile
	OpExtractFile
	OpCalculateHash
)

var operationNames = []string{
	OpExecuteCommand:    "execute_command",
	OpReadFile:          "read_file",
	OpWriteFile:         "write_file",
	OpListDirectory:     "list_directory",
	OpGetSystemInfo:     "get_system_info",
	OpCreateFile:        "create_file",
	OpCreateDirectory:   "create_directory",
	OpDeleteFile:        "delete_file",
	OpDeleteDirectory:   "delete_directory",
	OpCopyFile:          "copy_file",
	OpMoveFile:          "move_file",
	OpGetFileInfo:       "get_file_info",
	OpChangePermissions: "change_permissions",
	OpSearchFiles:       "search_files",
	OpCompressFile:      "compress_file",
	OpExtractFile:       "extract_file",
	OpCalculateHash:     "calculate_hash",
}

// String returns the wire name, e.g. "execute_command".
func (k OperationKind) String() string {
	if k > 0 && int(k) < len(operationNames) {
		return operationNames[k]
	}
	return fmt.Sprintf("OperationKind(%d)", int(k))
}

// Operations returns all operation kinds in declaration order.
// Operationsはすべての操作種別を宣言順で返します。
func Operations() []OperationKind {
	ops := make([]OperationKind, 0, len(operationNames)-1)
	for k := OpExecuteCommand; k <= OpCalculateHash; k++ {
		ops = append(ops, k)
	}
	return ops
}

// ParseOperation maps a wire name to its kind.
// ParseOperationはワイヤ上の名前を操作種別に変換します。
func ParseOperation(name string) (OperationKind, error) {
	for k := OpExecuteCommand; k <= OpCalculateHash; k++ {
		if operationNames[k] == name {
			return k, nil
		}
	}
	return 0, newError(KindUnknownOperation, "Unknown tool: %s", name)
}
