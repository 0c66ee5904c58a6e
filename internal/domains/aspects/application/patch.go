package application

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
)

// applyPatch runs the operations against base in order.
func applyPatch(base []byte, ops []types.PatchOperation) ([]byte, error) {
	if !gjson.ValidBytes(base) {
		return nil, fmt.Errorf("%w: stored payload is not valid JSON", types.ErrInvalidPatch)
	}
	doc := append([]byte(nil), base...)
	for i, op := range ops {
		var err error
		switch op.Op {
		case types.PatchSet:
			if !gjson.ValidBytes(op.Value) {
				return nil, fmt.Errorf("%w: operation %d value is not valid JSON", types.ErrInvalidPatch, i)
			}
			doc, err = sjson.SetRawBytes(doc, op.Path, op.Value)
		case types.PatchRemove:
			if !gjson.GetBytes(doc, op.Path).Exists() {
				continue
			}
			doc, err = sjson.DeleteBytes(doc, op.Path)
		default:
			err = fmt.Errorf("unknown op %q", op.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: operation %d: %v", types.ErrInvalidPatch, i, err)
		}
	}
	return doc, nil
}
