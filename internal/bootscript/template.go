package bootscript

// runnerTemplate is executed by the guest on first boot. It makes sure
// Hyper-V is enabled (rebooting once and resuming if needed), optionally
// creates a local administrator for the runner service, then registers an
// ephemeral runner that runs as a Windows service.
const runnerTemplate = `<powershell>
$ErrorActionPreference = 'Stop'
$runnerDir = 'C:\actions-runner'
$marker = 'C:\AzureData\ghrunner-resume'

$feature = Get-WindowsOptionalFeature -Online -FeatureName Microsoft-Hyper-V-All
if ($feature.State -ne 'Enabled') {
    $result = Enable-WindowsOptionalFeature -Online -FeatureName Microsoft-Hyper-V-All -All -NoRestart
    if ($result.RestartNeeded -and -not (Test-Path $marker)) {
        New-Item -ItemType File -Path $marker -Force | Out-Null
        $action = New-ScheduledTaskAction -Execute 'powershell.exe' -Argument "-ExecutionPolicy Bypass -File $($MyInvocation.MyCommand.Path)"
        $trigger = New-ScheduledTaskTrigger -AtStartup
        Register-ScheduledTask -TaskName 'ghrunner-resume' -Action $action -Trigger $trigger -User 'SYSTEM' -RunLevel Highest -Force | Out-Null
        Restart-Computer -Force
        exit 0
    }
}
Unregister-ScheduledTask -TaskName 'ghrunner-resume' -Confirm:$false -ErrorAction SilentlyContinue
{{- with .LocalAccount}}

$password = ConvertTo-SecureString {{psquote .Password}} -AsPlainText -Force
if (-not (Get-LocalUser -Name {{psquote .Username}} -ErrorAction SilentlyContinue)) {
    New-LocalUser -Name {{psquote .Username}} -Password $password -PasswordNeverExpires -AccountNeverExpires | Out-Null
}
Add-LocalGroupMember -Group 'Administrators' -Member {{psquote .Username}} -ErrorAction SilentlyContinue
Add-LocalGroupMember -Group 'Hyper-V Administrators' -Member {{psquote .Username}} -ErrorAction SilentlyContinue
{{- end}}

Set-Location $runnerDir
& .\config.cmd --unattended ` + "`" + `
    --url {{psquote .RepositoryURL}} ` + "`" + `
    --token {{psquote .Token}} ` + "`" + `
    --name {{psquote .RunnerName}} ` + "`" + `
    --labels {{psquote (join .Labels ",")}} ` + "`" + `
    --ephemeral ` + "`" + `
    --runasservice{{with .LocalAccount}} ` + "`" + `
    --windowslogonaccount {{psquote (printf ".\\%s" .Username)}} ` + "`" + `
    --windowslogonpassword {{psquote .Password}}{{end}}
</powershell>
`
