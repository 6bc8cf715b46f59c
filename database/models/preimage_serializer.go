package models

import (
	"context"
	"fmt"
	"reflect"

	"github.com/lightningnetwork/lnd/lntypes"
	"gorm.io/gorm/schema"
)

// PreimageSerializer stores a *lntypes.Preimage as its hex string. An empty
// column reads back as nil.
type PreimageSerializer struct{}

func (PreimageSerializer) Scan(_ context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	target := dst.Elem().FieldByName(field.Name)

	var raw string
	switch v := dbValue.(type) {
	case nil:
		target.Set(reflect.Zero(field.FieldType))

		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("failed to scan preimage: unexpected type %T", dbValue)
	}

	if raw == "" {
		target.Set(reflect.Zero(field.FieldType))

		return nil
	}

	preimage, err := lntypes.MakePreimageFromStr(raw)
	if err != nil {
		return fmt.Errorf("failed to parse preimage: %w", err)
	}
	target.Set(reflect.ValueOf(&preimage))

	return nil
}

func (PreimageSerializer) Value(_ context.Context, _ *schema.Field, _ reflect.Value, fieldValue interface{}) (interface{}, error) {
	switch v := fieldValue.(type) {
	case nil:
		return nil, nil
	case *lntypes.Preimage:
		if v == nil {
			return nil, nil
		}

		return v.String(), nil
	case lntypes.Preimage:
		return v.String(), nil
	case string:
		preimage, err := lntypes.MakePreimageFromStr(v)
		if err != nil {
			return nil, fmt.Errorf("failed to store preimage: %w", err)
		}

		return preimage.String(), nil
	default:
		return nil, fmt.Errorf("failed to store preimage: unexpected type %T", fieldValue)
	}
}

func init() {
	schema.RegisterSerializer("preimage", PreimageSerializer{})
}
