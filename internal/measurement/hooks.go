package measurement

import "fmt"

// Hook is the kind of event that triggered a measurement.
type Hook int

const (
	HookNone Hook = iota
	HookFileCheck
	HookMmapCheck
	HookBprmCheck
	HookCredsCheck
	HookPostSetattr
	HookModuleCheck
	HookFirmwareCheck
	HookKexecKernelCheck
	HookKexecInitramfsCheck
	HookPolicyCheck
	HookKexecCmdline
	HookKeyCheck
	HookCriticalData
	HookSetxattrCheck
	hookMax
)

var hookNames = [...]string{
	HookNone:                "none",
	HookFileCheck:           "file",
	HookMmapCheck:           "mmap",
	HookBprmCheck:           "bprm",
	HookCredsCheck:          "creds",
	HookPostSetattr:         "post_setattr",
	HookModuleCheck:         "module",
	HookFirmwareCheck:       "firmware",
	HookKexecKernelCheck:    "kexec_kernel",
	HookKexecInitramfsCheck: "kexec_initramfs",
	HookPolicyCheck:         "policy",
	HookKexecCmdline:        "kexec_cmdline",
	HookKeyCheck:            "key",
	HookCriticalData:        "critical_data",
	HookSetxattrCheck:       "setxattr_check",
}

// String returns the hook's short name. Out-of-range values are "none".
func (h Hook) String() string {
	if h < 0 || h >= hookMax {
		return hookNames[HookNone]
	}
	return hookNames[h]
}

// MeasureString returns the audit operation tag for measurements taken on h.
func (h Hook) MeasureString() string {
	return "measuring_" + h.String()
}

// ParseHook maps a short name back onto a Hook.
func ParseHook(s string) (Hook, error) {
	for h := HookNone; h < hookMax; h++ {
		if hookNames[h] == s {
			return h, nil
		}
	}
	return HookNone, fmt.Errorf("unknown hook %q", s)
}
