// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package icapi

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/ndidplatform/idconsent/internal/msgs"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks the validate tags of an API input, returning a single
// error that lists every failing field by its JSON name
func Validate(ctx context.Context, input any) error {
	err := validate.StructCtx(ctx, input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return i18n.WrapError(ctx, err, msgs.MsgInvalidInput, err.Error())
	}
	problems := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		// drop the Go type name the namespace starts with
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		problems[i] = fmt.Sprintf("%s failed '%s'", field, fe.Tag())
	}
	return i18n.NewError(ctx, msgs.MsgInvalidInput, strings.Join(problems, ", "))
}

// FailWithError marks the callback failed with the code and message of err
func (cb *CallbackBase) FailWithError(err error) {
	code := msgs.ErrorCode(err)
	if code == "" {
		code = string(msgs.MsgInternalError)
	}
	cb.Fail(code, err.Error())
}
