package service

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// AcquireDebugPrivilege enables SeDebugPrivilege on this process's own
// token, the privilege CreateRemoteThread/OpenProcess need to reach
// across process boundaries owned by another user. Manager.Init calls
// it only when asked to, the counterpart of the C original's TracerInit
// flag, since not every caller attaches to foreign processes.
func AcquireDebugPrivilege() error {
	return setPrivilege(windows.SE_DEBUG_NAME, true)
}

// ReleaseDebugPrivilege undoes AcquireDebugPrivilege, called from
// Shutdown if it was ever acquired.
func ReleaseDebugPrivilege() error {
	return setPrivilege(windows.SE_DEBUG_NAME, false)
}

func setPrivilege(name string, enable bool) error {
	var token windows.Token
	proc := windows.CurrentProcess()
	if err := windows.OpenProcessToken(proc, windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
		return fmt.Errorf("service: OpenProcessToken: %w", err)
	}
	defer token.Close()

	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, windows.StringToUTF16Ptr(name), &luid); err != nil {
		return fmt.Errorf("service: LookupPrivilegeValue(%s): %w", name, err)
	}

	privileges := windows.Tokenprivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{{
			Luid: luid,
		}},
	}
	if enable {
		privileges.Privileges[0].Attributes = windows.SE_PRIVILEGE_ENABLED
	}

	if err := windows.AdjustTokenPrivileges(token, false, &privileges, 0, nil, nil); err != nil {
		return fmt.Errorf("service: AdjustTokenPrivileges(%s): %w", name, err)
	}
	return nil
}
