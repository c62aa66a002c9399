package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/peng-cmdt/SimpleMES-sub001/pkg/models"
)

// executorResult is the outcome computed by one action executor. Executors
// are pure with respect to engine state; persisting the attempt is the
// caller's job.
type executorResult struct {
	Success          bool
	RequestValue     string
	ResponseValue    string
	ActualValue      string
	ValidationResult models.ValidationResult
	ErrorCode        string
	ErrorMessage     string
	Payload          map[string]interface{}
}

func failedResult(code, msg string) executorResult {
	return executorResult{
		Success:          false,
		ValidationResult: models.NotApplicableValidation,
		ErrorCode:        code,
		ErrorMessage:     msg,
	}
}

func (s *WorkflowService) runExecutor(ctx context.Context, action models.Action, params map[string]interface{}) (res executorResult) {
	// The audit trail must never have silent gaps: a panicking executor
	// still produces a failed result that the caller logs.
	defer func() {
		if r := recover(); r != nil {
			res = failedResult("EXECUTOR_PANIC", fmt.Sprintf("action executor panicked: %v", r))
		}
	}()

	switch action.Type {
	case models.DeviceReadAction:
		return s.executeDeviceRead(ctx, action, params)
	case models.DeviceWriteAction:
		return s.executeDeviceWrite(ctx, action, params)
	case models.ManualConfirmAction:
		return executeManualConfirm(params)
	case models.DataValidationAction:
		return executeDataValidation(action, params)
	case models.BarcodeScanAction:
		return executeBarcodeScan(action, params)
	case models.CameraCheckAction:
		return executeCameraCheck(params)
	case models.DelayWaitAction:
		return executeDelayWait(ctx, action, params)
	default:
		return failedResult("UNKNOWN_ACTION_TYPE", fmt.Sprintf("unknown action type %q", action.Type))
	}
}

func (s *WorkflowService) executeDeviceRead(ctx context.Context, action models.Action, params map[string]interface{}) executorResult {
	var p deviceReadParams
	if err := decodeParams(params, &p); err != nil {
		return failedResult("BAD_PARAMETERS", err.Error())
	}
	actual := p.ActualValue
	response := ""
	if s.gw != nil && action.DeviceID != nil && action.DeviceAddress != "" {
		r, err := s.gw.Read(ctx, *action.DeviceID, action.DeviceAddress)
		if err != nil {
			return failedResult("DEVICE_READ_FAILED", err.Error())
		}
		if !r.Success {
			return failedResult("DEVICE_READ_FAILED", r.Error)
		}
		response = strconv.Itoa(r.Value)
		actual = response
	}
	if actual == "" {
		actual = "1" // neither gateway nor caller supplied a value
	}
	return executorResult{
		Success:          true,
		RequestValue:     action.DeviceAddress,
		ResponseValue:    response,
		ActualValue:      actual,
		ValidationResult: models.NotApplicableValidation,
	}
}

func (s *WorkflowService) executeDeviceWrite(ctx context.Context, action models.Action, params map[string]interface{}) executorResult {
	var p deviceWriteParams
	if err := decodeParams(params, &p); err != nil {
		return failedResult("BAD_PARAMETERS", err.Error())
	}
	value := p.Value
	if value == "" {
		value = action.ExpectedValue
	}
	if s.gw != nil && action.DeviceID != nil && action.DeviceAddress != "" {
		w, err := s.gw.Write(ctx, *action.DeviceID, action.DeviceAddress, value)
		if err != nil {
			return failedResult("DEVICE_WRITE_FAILED", err.Error())
		}
		if !w.Success {
			return failedResult("DEVICE_WRITE_FAILED", w.Error)
		}
	}
	return executorResult{
		Success:          true,
		RequestValue:     value,
		ActualValue:      value,
		ValidationResult: models.NotApplicableValidation,
	}
}

func executeManualConfirm(params map[string]interface{}) executorResult {
	var p manualConfirmParams
	if err := decodeParams(params, &p); err != nil {
		return failedResult("BAD_PARAMETERS", err.Error())
	}
	if !p.Confirmed {
		return failedResult("NOT_CONFIRMED", "operator did not confirm the action")
	}
	return executorResult{
		Success:          true,
		ActualValue:      "confirmed",
		ValidationResult: models.NotApplicableValidation,
	}
}

func executeDataValidation(action models.Action, params map[string]interface{}) executorResult {
	var p dataValidationParams
	if err := decodeParams(params, &p); err != nil {
		return failedResult("BAD_PARAMETERS", err.Error())
	}
	rule, err := parseValidationRule(action.ValidationRule)
	if err != nil {
		return failedResult("BAD_VALIDATION_RULE", err.Error())
	}

	res := executorResult{ActualValue: p.ActualValue}
	switch rule.Type {
	case "range":
		val, err := strconv.ParseFloat(p.ActualValue, 64)
		if err != nil {
			res.Success = false
			res.ValidationResult = models.FailValidation
			res.ErrorCode = "VALIDATION_FAILED"
			res.ErrorMessage = fmt.Sprintf("value %q is not numeric", p.ActualValue)
			return res
		}
		if rule.Min != nil && val < *rule.Min {
			res.Success = false
			res.ValidationResult = models.FailValidation
			res.ErrorCode = "VALIDATION_FAILED"
			res.ErrorMessage = fmt.Sprintf("value %v is below minimum %v", val, *rule.Min)
			return res
		}
		if rule.Max != nil && val > *rule.Max {
			res.Success = false
			res.ValidationResult = models.FailValidation
			res.ErrorCode = "VALIDATION_FAILED"
			res.ErrorMessage = fmt.Sprintf("value %v is above maximum %v", val, *rule.Max)
			return res
		}
		res.Success = true
		res.ValidationResult = models.PassValidation
		return res
	case "equals":
		if p.ActualValue != rule.Expected {
			res.Success = false
			res.ValidationResult = models.FailValidation
			res.ErrorCode = "VALIDATION_FAILED"
			res.ErrorMessage = fmt.Sprintf("value %q does not equal expected %q", p.ActualValue, rule.Expected)
			return res
		}
		res.Success = true
		res.ValidationResult = models.PassValidation
		return res
	default:
		// Unrecognized rule types pass by default.
		res.Success = true
		res.ValidationResult = models.PassValidation
		return res
	}
}

func executeBarcodeScan(action models.Action, params map[string]interface{}) executorResult {
	var p barcodeScanParams
	if err := decodeParams(params, &p); err != nil {
		return failedResult("BAD_PARAMETERS", err.Error())
	}
	if p.ScannedValue == "" {
		res := failedResult("NOT_SCANNED", "no barcode was scanned")
		res.ValidationResult = models.FailValidation
		return res
	}
	pattern, err := regexp.Compile(action.ExpectedValue)
	if err != nil {
		return failedResult("BAD_SCAN_PATTERN", fmt.Sprintf("invalid expected pattern %q: %v", action.ExpectedValue, err))
	}
	res := executorResult{ActualValue: p.ScannedValue}
	if !pattern.MatchString(p.ScannedValue) {
		res.Success = false
		res.ValidationResult = models.FailValidation
		res.ErrorCode = "SCAN_MISMATCH"
		res.ErrorMessage = fmt.Sprintf("scanned value %q does not match pattern %q", p.ScannedValue, action.ExpectedValue)
		return res
	}
	res.Success = true
	res.ValidationResult = models.PassValidation
	return res
}

func executeCameraCheck(params map[string]interface{}) executorResult {
	var p cameraCheckParams
	if err := decodeParams(params, &p); err != nil {
		return failedResult("BAD_PARAMETERS", err.Error())
	}
	res := executorResult{
		ActualValue: p.CheckResult,
		Payload:     map[string]interface{}{"confidence": p.Confidence},
	}
	if p.CheckResult != "pass" {
		res.Success = false
		res.ValidationResult = models.FailValidation
		res.ErrorCode = "CAMERA_CHECK_FAILED"
		res.ErrorMessage = fmt.Sprintf("camera check result %q", p.CheckResult)
		return res
	}
	res.Success = true
	res.ValidationResult = models.PassValidation
	return res
}

func executeDelayWait(ctx context.Context, action models.Action, params map[string]interface{}) executorResult {
	var p delayWaitParams
	if err := decodeParams(params, &p); err != nil {
		return failedResult("BAD_PARAMETERS", err.Error())
	}
	delay := time.Duration(p.DelayTimeMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Duration(action.TimeoutMs) * time.Millisecond
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return failedResult("CANCELLED", ctx.Err().Error())
		case <-time.After(delay):
		}
	}
	return executorResult{
		Success:          true,
		ActualValue:      delay.String(),
		ValidationResult: models.NotApplicableValidation,
	}
}
