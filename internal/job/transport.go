package job

import (
	"github.com/ahmethakanbesel/diadict/internal/apperror"
	"github.com/ahmethakanbesel/diadict/internal/progress"
)

// kinds maps a job type tag to its parameter rules. Endpoint URLs are not
// needed on the serving side.
var kinds = map[string]progress.Kind{
	progress.KindImport: progress.ImportKind("", ""),
	progress.KindRepair: progress.RepairKind("", ""),
}

func lookupKind(name string) (progress.Kind, *apperror.AppError) {
	k, ok := kinds[name]
	if !ok {
		return progress.Kind{}, apperror.New(apperror.NotFound, "unknown job type: "+name)
	}
	return k, nil
}

type StartRequest struct {
	Kind   string
	Params progress.Params
}

func (r StartRequest) Validate() *apperror.AppError {
	k, appErr := lookupKind(r.Kind)
	if appErr != nil {
		return appErr
	}
	if err := k.Validate(r.Params); err != nil {
		return apperror.New(apperror.BadRequest, err.Error())
	}
	return nil
}

type ProgressRequest struct {
	Kind   string
	Params progress.Params
}

func (r ProgressRequest) Validate() *apperror.AppError {
	_, appErr := lookupKind(r.Kind)
	return appErr
}

type GetJobRequest struct {
	ID int64
}

func (r GetJobRequest) Validate() *apperror.AppError {
	if r.ID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid job id")
	}
	return nil
}

type ListJobsRequest struct {
	Kind string
}

func (r ListJobsRequest) Validate() *apperror.AppError {
	if r.Kind == "" {
		return nil
	}
	_, appErr := lookupKind(r.Kind)
	return appErr
}
